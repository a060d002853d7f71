package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wricardo/surfrace/race/config"
	"github.com/wricardo/surfrace/race/directory"
	"github.com/wricardo/surfrace/race/protocol"
	"github.com/wricardo/surfrace/race/room"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNoRoomID     = errors.New("could not allocate a room id")
)

const (
	idLength   = 6
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	idAttempts = 16
)

// Registry owns every live room by id.
type Registry struct {
	cfg      config.Config
	clock    clockwork.Clock
	notifier room.Notifier
	dir      directory.Directory
	logger   zerolog.Logger

	mu       sync.RWMutex
	rooms    map[string]*room.Room
	onRemove []func(roomID string)

	newID func() (string, error)
}

// New creates an empty registry. A nil dir disables the external mirror.
func New(cfg config.Config, clock clockwork.Clock, notifier room.Notifier, dir directory.Directory, logger zerolog.Logger) *Registry {
	if dir == nil {
		dir = directory.Noop{}
	}
	return &Registry{
		cfg:      cfg,
		clock:    clock,
		notifier: notifier,
		dir:      dir,
		logger:   logger.With().Str("component", "registry").Logger(),
		rooms:    make(map[string]*room.Room),
		newID:    randomID,
	}
}

// OnRemove registers a callback invoked after a room leaves the registry.
func (g *Registry) OnRemove(fn func(roomID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRemove = append(g.onRemove, fn)
}

// Create opens a fresh room with the caller as sole player and host.
func (g *Registry) Create(sessionID, hostName string) (*room.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := g.allocateIDLocked()
	if err != nil {
		return nil, err
	}

	r := room.New(id, g.cfg.RoomOptions(), g.clock, g.notifier, g.logger)
	if err := r.Host(sessionID, hostName); err != nil {
		r.Close()
		return nil, err
	}
	g.rooms[id] = r

	g.logger.Info().Str("room_id", id).Int("rooms", len(g.rooms)).Msg("room registered")
	return r, nil
}

func (g *Registry) allocateIDLocked() (string, error) {
	for i := 0; i < idAttempts; i++ {
		id, err := g.newID()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoRoomID, err)
		}
		if _, taken := g.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", ErrNoRoomID
}

// Join admits a player into an existing room.
func (g *Registry) Join(roomID, sessionID, name string) (*room.Room, error) {
	r, err := g.Get(roomID)
	if err != nil {
		return nil, err
	}
	if err := r.Join(sessionID, name); err != nil {
		if errors.Is(err, room.ErrRoomClosed) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return r, nil
}

// Get looks a room up by id. Ids are case-insensitive.
func (g *Registry) Get(roomID string) (*room.Room, error) {
	g.mu.RLock()
	r, ok := g.rooms[normalize(roomID)]
	g.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Remove closes and unregisters a room regardless of its roster.
func (g *Registry) Remove(roomID string) bool {
	g.mu.Lock()
	r, ok := g.rooms[normalize(roomID)]
	if ok {
		r.Close()
		delete(g.rooms, r.ID)
	}
	g.mu.Unlock()

	if ok {
		g.removed(r.ID, "closed")
	}
	return ok
}

// Release applies the empty-room policy after a player left. With
// DeleteEmptyRooms the room goes immediately, otherwise the idle sweep
// collects it later.
func (g *Registry) Release(roomID string) bool {
	if !g.cfg.DeleteEmptyRooms {
		return false
	}

	g.mu.Lock()
	r, ok := g.rooms[normalize(roomID)]
	if !ok || !r.CloseIfEmpty() {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, r.ID)
	g.mu.Unlock()

	g.removed(r.ID, "empty")
	return true
}

func (g *Registry) removed(roomID, reason string) {
	g.logger.Info().Str("room_id", roomID).Str("reason", reason).Msg("room removed")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.dir.Remove(ctx, roomID); err != nil {
		g.logger.Warn().Err(err).Str("room_id", roomID).Msg("directory remove failed")
	}

	g.mu.RLock()
	callbacks := append([]func(string){}, g.onRemove...)
	g.mu.RUnlock()
	for _, fn := range callbacks {
		fn(roomID)
	}
}

// List returns the rooms a new player could join, oldest first.
func (g *Registry) List() []protocol.RoomSummary {
	rooms := g.Rooms()
	summaries := make([]protocol.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if summary, joinable := r.Summary(); joinable {
			summaries = append(summaries, summary)
		}
	}
	return summaries
}

// Rooms returns every registered room ordered by creation.
func (g *Registry) Rooms() []*room.Room {
	g.mu.RLock()
	rooms := make([]*room.Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		ci, cj := rooms[i].CreatedAt(), rooms[j].CreatedAt()
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

// Count returns the number of registered rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Players returns the number of player records across all rooms.
func (g *Registry) Players() int {
	total := 0
	for _, r := range g.Rooms() {
		total += r.PlayerCount()
	}
	return total
}

// Sweep removes rooms that have been empty for longer than the idle TTL and
// returns their ids.
func (g *Registry) Sweep(now time.Time) []string {
	ttl := g.cfg.RoomIdleTTL.Std()

	var removed []string
	g.mu.Lock()
	for id, r := range g.rooms {
		if r.IdleFor(now, ttl) && r.CloseIfEmpty() {
			delete(g.rooms, id)
			removed = append(removed, id)
		}
	}
	g.mu.Unlock()

	sort.Strings(removed)
	for _, id := range removed {
		g.removed(id, "idle")
	}
	return removed
}

// Directory returns the external mirror.
func (g *Registry) Directory() directory.Directory {
	return g.dir
}

// SyncDirectory publishes the joinable listing to the directory.
func (g *Registry) SyncDirectory(ctx context.Context) error {
	return g.dir.Sync(ctx, g.List())
}

// Run sweeps idle rooms and refreshes the directory every SweepInterval
// until ctx is cancelled.
func (g *Registry) Run(ctx context.Context) {
	ticker := g.clock.NewTicker(g.cfg.SweepInterval.Std())
	defer ticker.Stop()

	g.logger.Info().Dur("interval", g.cfg.SweepInterval.Std()).Dur("idle_ttl", g.cfg.RoomIdleTTL.Std()).Msg("room sweeper started")

	for {
		select {
		case <-ctx.Done():
			g.logger.Info().Msg("room sweeper stopped")
			return
		case <-ticker.Chan():
			if removed := g.Sweep(g.clock.Now()); len(removed) > 0 {
				g.logger.Info().Strs("room_ids", removed).Msg("idle rooms swept")
			}
			syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := g.SyncDirectory(syncCtx); err != nil {
				g.logger.Warn().Err(err).Msg("directory sync failed")
			}
			cancel()
		}
	}
}

// Close removes every room. Used on shutdown.
func (g *Registry) Close() {
	for _, r := range g.Rooms() {
		g.Remove(r.ID)
	}
}

func normalize(roomID string) string {
	return strings.ToUpper(strings.TrimSpace(roomID))
}

// randomID returns a six character upper-case base36 code.
func randomID() (string, error) {
	var b strings.Builder
	base := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < idLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}
