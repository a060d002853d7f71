package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wricardo/surfrace/race/config"
	"github.com/wricardo/surfrace/race/protocol"
	"github.com/wricardo/surfrace/race/reconnect"
	"github.com/wricardo/surfrace/race/registry"
	"github.com/wricardo/surfrace/race/room"
)

// Version is reported to clients in serverConfig.
const Version = "1.0.0"

var ErrMissingRoomID = errors.New("roomId is required")

// Service routes decoded client commands to rooms. It owns the
// connection index, a non-owning map from session id to room id.
type Service struct {
	cfg       config.Config
	rooms     *registry.Registry
	reconnect *reconnect.Manager
	notifier  room.Notifier
	clock     clockwork.Clock
	logger    zerolog.Logger
	started   time.Time

	mu    sync.RWMutex
	conns map[string]string
}

// New wires the service to its registry and reconnection manager.
func New(cfg config.Config, rooms *registry.Registry, rc *reconnect.Manager, notifier room.Notifier, clock clockwork.Clock, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:       cfg,
		rooms:     rooms,
		reconnect: rc,
		notifier:  notifier,
		clock:     clock,
		logger:    logger.With().Str("component", "service").Logger(),
		started:   clock.Now(),
		conns:     make(map[string]string),
	}

	rooms.OnRemove(s.forgetRoom)
	rc.OnExpire(func(roomID string, dep room.Departure) {
		if dep.Empty {
			rooms.Release(roomID)
		}
	})
	return s
}

// Connect greets a new connection with the server rules.
func (s *Service) Connect(sessionID string) {
	s.logger.Debug().Str("session_id", sessionID).Msg("connection opened")
	s.send(sessionID, protocol.NewMessage(protocol.KindServerConfig, protocol.ServerConfig{
		MaxPlayersPerRoom: s.cfg.MaxPlayers,
		ServerVersion:     Version,
		AutoStart:         s.cfg.AutoStart,
		Classroom:         s.cfg.Classroom,
		ReconnectGraceMs:  s.reconnect.Grace().Milliseconds(),
	}))
}

// Handle decodes one frame and applies it. Failures are reported to the
// sender only. A panic while handling is logged and does not escape.
func (s *Service) Handle(sessionID string, frame []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().Str("session_id", sessionID).Interface("panic", rec).Msg("command handler panicked")
			s.sendError(sessionID, protocol.CodeInternal, "internal error")
		}
	}()

	cmd, err := protocol.Decode(frame)
	if err != nil {
		s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("rejected frame")
		s.sendError(sessionID, CodeFor(err), err.Error())
		return
	}

	if err := s.Dispatch(sessionID, cmd); err != nil {
		s.logger.Debug().Err(err).Str("session_id", sessionID).Str("type", string(cmd.Kind())).Msg("command failed")
		s.sendError(sessionID, CodeFor(err), err.Error())
	}
}

// Dispatch applies a decoded command on behalf of sessionID.
func (s *Service) Dispatch(sessionID string, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.CreateRoom:
		return s.createRoom(sessionID, c)
	case protocol.JoinRoom:
		return s.joinRoom(sessionID, c)
	case protocol.RejoinRoom:
		return s.rejoinRoom(sessionID, c)
	case protocol.ListRooms:
		s.send(sessionID, protocol.NewMessage(protocol.KindRoomList, s.rooms.List()))
		return nil
	case protocol.LeaveRoom:
		s.leaveCurrent(sessionID)
		return nil
	}

	r, err := s.currentRoom(sessionID)
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case protocol.PlayerReady:
		return r.SetReady(sessionID, c.Ready)
	case protocol.StartRace:
		return r.Start(sessionID)
	case protocol.PlayerUpdate:
		return r.Update(sessionID, c)
	case protocol.PlayerFinished:
		return r.Finish(sessionID, c.Score)
	case protocol.RequestState:
		return r.SendState(sessionID)
	}
	return fmt.Errorf("%w: %q", protocol.ErrUnknownType, cmd.Kind())
}

func (s *Service) createRoom(sessionID string, c protocol.CreateRoom) error {
	s.leaveCurrent(sessionID)

	r, err := s.rooms.Create(sessionID, c.PlayerName)
	if err != nil {
		return err
	}
	s.bind(sessionID, r.ID)
	return nil
}

func (s *Service) joinRoom(sessionID string, c protocol.JoinRoom) error {
	if c.RoomID == "" {
		return ErrMissingRoomID
	}
	if current, ok := s.RoomOf(sessionID); ok && current == c.RoomID {
		return room.ErrAlreadyJoined
	}
	s.leaveCurrent(sessionID)

	r, err := s.rooms.Join(c.RoomID, sessionID, c.PlayerName)
	if err != nil {
		return err
	}
	s.bind(sessionID, r.ID)
	return nil
}

func (s *Service) rejoinRoom(sessionID string, c protocol.RejoinRoom) error {
	if c.RoomID == "" {
		return ErrMissingRoomID
	}
	r, err := s.rooms.Get(c.RoomID)
	if err != nil {
		return err
	}
	if current, ok := s.RoomOf(sessionID); ok && current != r.ID {
		s.leaveCurrent(sessionID)
	}

	if _, err := s.reconnect.Rejoin(r, c.PlayerName, c.Token, sessionID); err != nil {
		if errors.Is(err, room.ErrRoomClosed) {
			return registry.ErrRoomNotFound
		}
		return err
	}
	s.bind(sessionID, r.ID)
	return nil
}

// Disconnect hands a dropped connection to the reconnection manager.
func (s *Service) Disconnect(sessionID string) {
	roomID, ok := s.unbind(sessionID)
	if !ok {
		s.logger.Debug().Str("session_id", sessionID).Msg("connection closed outside any room")
		return
	}

	r, err := s.rooms.Get(roomID)
	if err != nil {
		return
	}
	if _, err := s.reconnect.Disconnect(r, sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Str("room_id", roomID).Msg("disconnect for unknown player")
	}
}

// leaveCurrent removes sessionID from the room it is in, if any.
func (s *Service) leaveCurrent(sessionID string) {
	roomID, ok := s.unbind(sessionID)
	if !ok {
		return
	}
	r, err := s.rooms.Get(roomID)
	if err != nil {
		return
	}

	dep, err := r.Leave(sessionID)
	if err != nil {
		return
	}
	if dep.Empty {
		s.rooms.Release(roomID)
	}
}

func (s *Service) currentRoom(sessionID string) (*room.Room, error) {
	roomID, ok := s.RoomOf(sessionID)
	if !ok {
		return nil, room.ErrNotInRoom
	}
	r, err := s.rooms.Get(roomID)
	if err != nil {
		s.unbind(sessionID)
		return nil, room.ErrNotInRoom
	}
	return r, nil
}

// RoomOf returns the room a session is bound to.
func (s *Service) RoomOf(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.conns[sessionID]
	return roomID, ok
}

func (s *Service) bind(sessionID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sessionID] = roomID
}

func (s *Service) unbind(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.conns[sessionID]
	delete(s.conns, sessionID)
	return roomID, ok
}

func (s *Service) forgetRoom(roomID string) {
	cancelled := s.reconnect.ForgetRoom(roomID)

	s.mu.Lock()
	for sessionID, id := range s.conns {
		if id == roomID {
			delete(s.conns, sessionID)
		}
	}
	s.mu.Unlock()

	if cancelled > 0 {
		s.logger.Debug().Str("room_id", roomID).Int("timers", cancelled).Msg("cancelled grace timers of removed room")
	}
}

func (s *Service) send(sessionID string, msg protocol.Message) {
	s.notifier.Deliver([]string{sessionID}, msg)
}

func (s *Service) sendError(sessionID string, code protocol.Code, message string) {
	s.send(sessionID, protocol.NewMessage(protocol.KindError, protocol.Error{Code: code, Message: message}))
}

// Stats is a point-in-time view of the server load.
type Stats struct {
	Rooms             int           `json:"rooms"`
	Players           int           `json:"activePlayers"`
	Connections       int           `json:"connections"`
	PendingReconnects int           `json:"pendingReconnects"`
	Uptime            time.Duration `json:"-"`
}

// Stats reports current counts.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	conns := len(s.conns)
	s.mu.RUnlock()

	return Stats{
		Rooms:             s.rooms.Count(),
		Players:           s.rooms.Players(),
		Connections:       conns,
		PendingReconnects: s.reconnect.Len(),
		Uptime:            s.clock.Since(s.started),
	}
}

// Config returns the active configuration.
func (s *Service) Config() config.Config {
	return s.cfg
}

// Registry exposes the room registry for read-only surfaces.
func (s *Service) Registry() *registry.Registry {
	return s.rooms
}
