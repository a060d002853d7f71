// Package protocol defines the wire contract between racing clients and the
// session server.
//
// Every frame is a JSON envelope:
//
//	{"type": "joinRoom", "data": {"roomId": "K3F9QZ", "playerName": "Alice"}}
//
// Inbound frames decode into a closed set of Command types (CreateRoom,
// JoinRoom, RejoinRoom, ListRooms, PlayerReady, StartRace, PlayerUpdate,
// PlayerFinished, LeaveRoom, RequestState). Callers dispatch on them with a
// type switch; there is no string-keyed handler table.
//
// Outbound frames are built with NewMessage from one of the payload structs in
// messages.go and serialized once with Encode, no matter how many recipients
// the fan-out has.
package protocol
