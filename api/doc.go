// Package api provides the HTTP surface of the race server.
//
// Endpoints:
//
//   - GET /health          liveness plus room and player counts
//   - GET /api/info        server name, version and race rules
//   - GET /api/stats       rooms, players, connections, pending reconnects
//   - GET /api/rooms       rooms that accept new players, oldest first
//   - GET /api/rooms/{id}  full snapshot of one room
//   - GET /api/directory   rooms as mirrored in the external directory
//   - GET /ws              websocket upgrade for game clients
//
// Errors are JSON objects with an error message and a protocol code:
//
//	{"error": "room not found", "code": "RoomNotFound"}
//
// Everything that changes room state goes over the websocket; the REST
// endpoints are read-only.
package api
