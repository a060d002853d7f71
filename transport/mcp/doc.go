// Package mcp provides a Model Context Protocol server for inspecting a running race server.
//
// The Client is a thin proxy: every tool issues a REST call against the
// server's HTTP API and formats the JSON reply as text for an AI agent or
// operator. Nothing here mutates rooms; players only act through the
// websocket protocol.
//
// MCP Tools:
//   - server_health: liveness and active counts (GET /health)
//   - server_info: version and room policy (GET /api/info)
//   - server_stats: connections and pending reconnects (GET /api/stats)
//   - list_rooms: joinable rooms (GET /api/rooms)
//   - get_room: full room snapshot (GET /api/rooms/{id})
//   - race_standings: snapshot players ordered by score
//   - room_directory: rooms mirrored in the shared directory (GET /api/directory)
//   - protocol_reference: websocket message and error code reference
//
// Transport Modes:
//
// The same MCPServer backs both the stdio mode (server.ServeStdio) and the
// /mcp HTTP endpoint mounted by the serve command.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
