// Package directory mirrors the joinable-room listing outside the process so
// lobby pages and other instances can read it without a websocket.
package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/wricardo/surfrace/race/protocol"
)

// Directory receives the registry's listing after every sweep and each room
// removal.
type Directory interface {
	// Sync publishes the current set of joinable rooms.
	Sync(ctx context.Context, rooms []protocol.RoomSummary) error
	// Remove drops a deleted room.
	Remove(ctx context.Context, roomID string) error
	// List returns the mirrored rooms ordered by id.
	List(ctx context.Context) ([]protocol.RoomSummary, error)
}

// Noop discards everything. It is used when no external store is configured.
type Noop struct{}

func (Noop) Sync(context.Context, []protocol.RoomSummary) error { return nil }
func (Noop) Remove(context.Context, string) error               { return nil }
func (Noop) List(context.Context) ([]protocol.RoomSummary, error) {
	return nil, nil
}

// Memory keeps the mirror in process.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]protocol.RoomSummary
}

// NewMemory creates an empty in-process directory.
func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]protocol.RoomSummary)}
}

// Sync replaces the mirror with rooms.
func (m *Memory) Sync(_ context.Context, rooms []protocol.RoomSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = make(map[string]protocol.RoomSummary, len(rooms))
	for _, r := range rooms {
		m.rooms[r.ID] = r
	}
	return nil
}

// Remove drops one room.
func (m *Memory) Remove(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

// List returns the mirrored rooms ordered by id.
func (m *Memory) List(context.Context) ([]protocol.RoomSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.RoomSummary, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sortByID(out)
	return out, nil
}

func sortByID(rooms []protocol.RoomSummary) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
}
