// Package service is the per-connection front of the race server.
//
// Transports hand it three events: Connect when a socket opens, Handle for
// every inbound frame and Disconnect when the socket goes away. Handle decodes
// the frame into a protocol.Command and dispatches it with a type switch:
//
//	createRoom, joinRoom, rejoinRoom   registry and reconnection manager
//	listRooms                          registry listing
//	playerReady, startRace             room ready-check and countdown
//	playerUpdate, playerFinished       room race loop
//	leaveRoom, requestState            room roster and resync
//
// Errors never reach other players; the sender gets an error message with a
// protocol.Code chosen by CodeFor.
//
// A connection is in at most one room. Creating or joining another room first
// leaves the current one.
package service
