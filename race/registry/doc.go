// Package registry owns the live rooms of the server.
//
// Rooms are created with a random six character code, looked up by that code
// (case-insensitively) and removed either as soon as they empty out or by the
// periodic idle sweep, depending on config.Config.DeleteEmptyRooms.
//
// Lock order is registry before room: the registry never calls into a room
// while the room could be waiting on the registry.
package registry
