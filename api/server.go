package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/wricardo/surfrace/race/protocol"
	"github.com/wricardo/surfrace/race/registry"
	"github.com/wricardo/surfrace/race/service"
	"github.com/wricardo/surfrace/transport/websocket"
)

// Info identifies the running server.
type Info struct {
	Name    string
	Version string
}

// Server represents the REST API server
type Server struct {
	service *service.Service
	hub     *websocket.Hub
	router  *mux.Router
	info    Info
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(svc *service.Service, hub *websocket.Hub, info Info, logger zerolog.Logger) *Server {
	s := &Server{
		service: svc,
		hub:     hub,
		router:  mux.NewRouter(),
		info:    info,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/info", s.handleInfo).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/rooms", s.handleListRooms).Methods("GET")
	api.HandleFunc("/rooms/{id}", s.handleGetRoom).Methods("GET")
	api.HandleFunc("/directory", s.handleDirectory).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, protocol.CodeBadRequest, "no such endpoint")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code protocol.Code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": string(code)})
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Uptime            int64  `json:"uptime"`
	Timestamp         int64  `json:"timestamp"`
	Rooms             int    `json:"rooms"`
	ActivePlayers     int    `json:"activePlayers"`
	Connections       int    `json:"connections"`
	MaxPlayersPerRoom int    `json:"maxPlayersPerRoom"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.service.Stats()
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:            "healthy",
		Uptime:            int64(stats.Uptime / time.Second),
		Timestamp:         time.Now().UnixMilli(),
		Rooms:             stats.Rooms,
		ActivePlayers:     stats.Players,
		Connections:       s.hub.Count(),
		MaxPlayersPerRoom: s.service.Config().MaxPlayers,
	})
}

// InfoResponse is returned by GET /api/info.
type InfoResponse struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	MaxPlayersPerRoom int    `json:"maxPlayersPerRoom"`
	ActiveRooms       int    `json:"activeRooms"`
	ActivePlayers     int    `json:"activePlayers"`
	AutoStart         bool   `json:"autoStart"`
	Classroom         bool   `json:"classroom"`
	ReconnectGraceMs  int64  `json:"reconnectGraceMs"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	stats := s.service.Stats()
	cfg := s.service.Config()
	respondJSON(w, http.StatusOK, InfoResponse{
		Name:              s.info.Name,
		Version:           s.info.Version,
		MaxPlayersPerRoom: cfg.MaxPlayers,
		ActiveRooms:       stats.Rooms,
		ActivePlayers:     stats.Players,
		AutoStart:         cfg.AutoStart,
		Classroom:         cfg.Classroom,
		ReconnectGraceMs:  cfg.ReconnectGrace.Std().Milliseconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.service.Stats()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rooms":             stats.Rooms,
		"activePlayers":     stats.Players,
		"connections":       stats.Connections,
		"pendingReconnects": stats.PendingReconnects,
		"discardedFrames":   s.hub.Overflow(),
		"uptimeSeconds":     int64(stats.Uptime / time.Second),
	})
}

// RoomListResponse is returned by GET /api/rooms.
type RoomListResponse struct {
	Count int                    `json:"count"`
	Rooms []protocol.RoomSummary `json:"rooms"`
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.service.Registry().List()
	respondJSON(w, http.StatusOK, RoomListResponse{Count: len(rooms), Rooms: rooms})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rm, err := s.service.Registry().Get(id)
	if err != nil {
		if errors.Is(err, registry.ErrRoomNotFound) {
			respondError(w, http.StatusNotFound, protocol.CodeRoomNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, rm.Snapshot())
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.service.Registry().Directory().List(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("directory list failed")
		respondError(w, http.StatusBadGateway, protocol.CodeInternal, err.Error())
		return
	}
	if rooms == nil {
		rooms = []protocol.RoomSummary{}
	}
	respondJSON(w, http.StatusOK, RoomListResponse{Count: len(rooms), Rooms: rooms})
}

// handleWebSocket upgrades the connection. Session ids are assigned by the
// hub, so no query parameters are needed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.service)
}
