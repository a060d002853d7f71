package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/surfrace/api"
	"github.com/wricardo/surfrace/race/protocol"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Surf Racer",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Surf Racer - MCP Interface

Read-only inspection of a running race server. Every tool proxies the REST API.

Players talk to the server over the /ws websocket; these tools cannot join
rooms or send race commands, they only report what the server sees.

AVAILABLE TOOLS:
- server_health: Liveness, uptime and active counts
- server_info: Name, version and room policy (auto start, classroom, grace)
- server_stats: Rooms, players, connections and pending reconnects
- list_rooms: Rooms that can currently be joined
- get_room: Full snapshot of one room (players, state, host)
- race_standings: Current standings of one room ordered by score
- room_directory: Rooms as mirrored in the shared directory
- protocol_reference: Websocket message types and error codes`),
	)

	c.registerTools()
}

func roomIDSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"room_id": map[string]interface{}{
				"type":        "string",
				"description": "Six character room code (case insensitive)",
			},
		},
		Required: []string{"room_id"},
	}
}

func emptySchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]interface{}{},
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Server
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_health",
		Description: "Check that the race server is up and report active counts",
		InputSchema: emptySchema(),
	}, c.handleHealth)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_info",
		Description: "Get server name, version and room policy",
		InputSchema: emptySchema(),
	}, c.handleInfo)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_stats",
		Description: "Get room, player, connection and pending reconnect counts",
		InputSchema: emptySchema(),
	}, c.handleStats)

	// Rooms
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List rooms that are waiting for players and have free slots",
		InputSchema: emptySchema(),
	}, c.handleListRooms)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_room",
		Description: "Get the full state of a room",
		InputSchema: roomIDSchema(),
	}, c.handleGetRoom)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "race_standings",
		Description: "Get the standings of a room ordered by score, finished players first on ties",
		InputSchema: roomIDSchema(),
	}, c.handleStandings)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "room_directory",
		Description: "List joinable rooms as published to the shared room directory",
		InputSchema: emptySchema(),
	}, c.handleDirectory)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "protocol_reference",
		Description: "Describe the websocket message types and error codes",
		InputSchema: emptySchema(),
	}, c.handleProtocolReference)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			if code := errResp["code"]; code != "" {
				return fmt.Errorf("%s: %s", code, msg)
			}
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func roomIDArg(request mcp.CallToolRequest) (string, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	id, _ := args["room_id"].(string)
	id = protocol.NormalizeRoomID(id)
	if id == "" {
		return "", fmt.Errorf("room_id is required")
	}
	return id, nil
}

func (c *Client) getRoom(ctx context.Context, request mcp.CallToolRequest) (*protocol.RoomSnapshot, error) {
	id, err := roomIDArg(request)
	if err != nil {
		return nil, err
	}

	var snap protocol.RoomSnapshot
	if err := c.apiCall(ctx, "GET", "/api/rooms/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Tool handlers

func (c *Client) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var health api.HealthResponse
	if err := c.apiCall(ctx, "GET", "/health", nil, &health); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Status: %s\nUptime: %s\nRooms: %d\nActive players: %d\nConnections: %d\nMax players per room: %d\n",
		health.Status, time.Duration(health.Uptime)*time.Second,
		health.Rooms, health.ActivePlayers, health.Connections, health.MaxPlayersPerRoom)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var info api.InfoResponse
	if err := c.apiCall(ctx, "GET", "/api/info", nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatInfo(&info)), nil
}

func (c *Client) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats struct {
		Rooms             int   `json:"rooms"`
		ActivePlayers     int   `json:"activePlayers"`
		Connections       int   `json:"connections"`
		PendingReconnects int   `json:"pendingReconnects"`
		UptimeSeconds     int64 `json:"uptimeSeconds"`
	}
	if err := c.apiCall(ctx, "GET", "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Rooms: %d\nActive players: %d\nConnections: %d\nPending reconnects: %d\nUptime: %s\n",
		stats.Rooms, stats.ActivePlayers, stats.Connections, stats.PendingReconnects,
		time.Duration(stats.UptimeSeconds)*time.Second)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response api.RoomListResponse
	if err := c.apiCall(ctx, "GET", "/api/rooms", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoomList("Joinable Rooms", response.Rooms)), nil
}

func (c *Client) handleDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response api.RoomListResponse
	if err := c.apiCall(ctx, "GET", "/api/directory", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoomList("Directory", response.Rooms)), nil
}

func (c *Client) handleGetRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := c.getRoom(ctx, request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoom(snap)), nil
}

func (c *Client) handleStandings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := c.getRoom(ctx, request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStandings(snap)), nil
}

func (c *Client) handleProtocolReference(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(protocolReference), nil
}

const protocolReference = `WEBSOCKET PROTOCOL

Every frame is a JSON envelope: {"type": "<kind>", "data": {...}}
The server assigns the connection id; it is the playerId seen by others.

CLIENT -> SERVER
- createRoom      {playerName}
- joinRoom        {roomId, playerName}
- rejoinRoom      {roomId, playerName, reconnectToken}
- listRooms       {}
- playerReady     {ready}
- startRace       {}            host only, when auto start is off
- playerUpdate    {position, lane, isJumping, score}   any subset
- playerFinished  {score}
- leaveRoom       {}
- requestState    {}

SERVER -> CLIENT
- serverConfig, roomCreated, roomJoined, roomList, roomState
- playerJoined, playerRejoined, playerLeft, playersUpdated, newHost
- raceCountdown (3,2,1,0), raceStart, opponentUpdate
- playerFinishedRace, raceEnded (rankings), raceReset
- racePaused, raceResumed
- error {code, message}

ERROR CODES
RoomNotFound, RoomFull, RaceInProgress, NameTaken, NotAuthorized, RaceBusy,
InsufficientPlayers, PlayersNotReady, PlayerNotFound, NotInRoom, BadRequest, Internal

RECONNECTING
A dropped player keeps its seat for the grace period. Send rejoinRoom with the
same name (and the reconnectToken from roomCreated/roomJoined) on a new
connection to take it back with score and position intact.`

// Formatting helpers

func formatInfo(info *api.InfoResponse) string {
	mode := "auto start when everyone is ready"
	if !info.AutoStart {
		mode = "host starts the race"
	}
	if info.Classroom {
		mode += ", classroom (host spectates)"
	}

	return fmt.Sprintf("%s v%s\nMax players per room: %d\nActive rooms: %d\nActive players: %d\nStart mode: %s\nReconnect grace: %s\n",
		info.Name, info.Version, info.MaxPlayersPerRoom, info.ActiveRooms, info.ActivePlayers,
		mode, time.Duration(info.ReconnectGraceMs)*time.Millisecond)
}

func formatRoomList(title string, rooms []protocol.RoomSummary) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s (%d):\n\n", title, len(rooms)))
	if len(rooms) == 0 {
		result.WriteString("No rooms available\n")
		return result.String()
	}
	for _, r := range rooms {
		result.WriteString(fmt.Sprintf("- %s  %d/%d players  host: %s\n",
			r.ID, r.PlayerCount, r.MaxPlayers, r.HostName))
	}
	return result.String()
}

func formatRoom(snap *protocol.RoomSnapshot) string {
	if snap == nil {
		return "No room state available"
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Room: %s | State: %s | Players: %d/%d\n",
		snap.ID, snap.State, len(snap.Players), snap.MaxPlayers))
	if snap.CreatedAt > 0 {
		result.WriteString(fmt.Sprintf("Created: %s\n",
			time.UnixMilli(snap.CreatedAt).UTC().Format("2006-01-02 15:04:05")))
	}
	if snap.State == "countdown" {
		result.WriteString(fmt.Sprintf("Countdown: %d\n", snap.Countdown))
	}
	result.WriteString("\n")

	for _, p := range snap.Players {
		var tags []string
		if p.ID == snap.HostID {
			tags = append(tags, "host")
		}
		if p.Spectator {
			tags = append(tags, "spectator")
		}
		if p.Ready {
			tags = append(tags, "ready")
		}
		if p.Status != "" && p.Status != "online" {
			tags = append(tags, p.Status)
		}
		if p.Finished {
			tags = append(tags, "finished")
		}

		line := fmt.Sprintf("- %s  score: %d  lane: %d  z: %.0f", p.Name, p.Score, p.Lane, p.Position.Z)
		if len(tags) > 0 {
			line += "  [" + strings.Join(tags, ", ") + "]"
		}
		result.WriteString(line + "\n")
	}

	return result.String()
}

func formatStandings(snap *protocol.RoomSnapshot) string {
	if snap == nil {
		return "No room state available"
	}

	racers := make([]protocol.PlayerView, 0, len(snap.Players))
	for _, p := range snap.Players {
		if !p.Spectator {
			racers = append(racers, p)
		}
	}
	sort.SliceStable(racers, func(i, j int) bool {
		if racers[i].Score != racers[j].Score {
			return racers[i].Score > racers[j].Score
		}
		return racers[i].Finished && !racers[j].Finished
	})

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Standings for %s (%s):\n\n", snap.ID, snap.State))
	if len(racers) == 0 {
		result.WriteString("No racers\n")
		return result.String()
	}
	for i, p := range racers {
		line := fmt.Sprintf("%d. %s  %d", i+1, p.Name, p.Score)
		if p.Finished && p.FinishTime != nil {
			line += fmt.Sprintf("  finished in %s", (time.Duration(*p.FinishTime) * time.Millisecond).Round(time.Millisecond))
		}
		result.WriteString(line + "\n")
	}
	return result.String()
}
