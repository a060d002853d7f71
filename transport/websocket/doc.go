// Package websocket provides the WebSocket transport for the race server.
//
// The websocket package implements:
//   - Connection upgrade and per-connection session ids
//   - Read and write pumps with ping/pong keepalive
//   - Addressed fan-out of outbound race messages
//
// Architecture:
//
// A central Hub owns every connected Client. Registration, removal and
// outbound delivery all go through the hub's event loop, so the client map
// is only touched by one goroutine. Each client has a dedicated read pump
// and write pump.
//
// Message Protocol:
//
// Every frame is one JSON envelope:
//   - Incoming: {"type": "joinRoom", "data": {"roomId": "AB12CD", "playerName": "Alice"}}
//   - Outgoing: {"type": "playerJoined", "data": {...}}
//
// Inbound frames are handed to a Handler unchanged; decoding is the handler's
// job. Outbound messages arrive through Deliver, are encoded once and queued
// on each addressed client.
//
// Usage:
//
//	hub := websocket.NewHub(logger)
//	go hub.Run()
//
//	svc := service.New(cfg, rooms, reconnects, hub, clock, logger)
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, svc)
//	})
//
// Connection Lifecycle:
//
// 1. Client connects and receives a fresh session id
// 2. Connection registered with hub, Handler.Connect called
// 3. Client sends commands, receives room broadcasts
// 4. Disconnection unregisters the client and calls Handler.Disconnect
//
// Slow consumers:
//
// Deliver never waits on an individual client. A client whose send queue is
// full is disconnected, which the room sees as an ordinary disconnect.
package websocket
