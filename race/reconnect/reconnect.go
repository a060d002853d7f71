// Package reconnect keeps disconnected players' records alive for a grace
// period so a new connection can take them over.
package reconnect

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wricardo/surfrace/race/room"
)

// Key identifies a pending removal. Session ids change across reconnects,
// so the player name is the stable part.
type Key struct {
	RoomID string
	Player string
}

type pending struct {
	timer    clockwork.Timer
	room     *room.Room
	deadline time.Time
	gen      uint64
}

// Manager owns every grace timer. Timers are only ever created, cancelled
// and fired through it.
type Manager struct {
	clock  clockwork.Clock
	grace  time.Duration
	logger zerolog.Logger

	mu       sync.Mutex
	timers   map[Key]*pending
	gen      uint64
	onExpire []func(roomID string, dep room.Departure)
}

// New creates a Manager with the given grace period.
func New(clock clockwork.Clock, grace time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		clock:  clock,
		grace:  grace,
		logger: logger.With().Str("component", "reconnect").Logger(),
		timers: make(map[Key]*pending),
	}
}

// OnExpire registers a callback run after an expired player was removed.
func (m *Manager) OnExpire(fn func(roomID string, dep room.Departure)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = append(m.onExpire, fn)
}

// Grace returns the configured grace period.
func (m *Manager) Grace() time.Duration {
	return m.grace
}

// Disconnect marks the player bound to sessionID offline, which pauses a
// running race, and starts its grace timer.
func (m *Manager) Disconnect(r *room.Room, sessionID string) (Key, error) {
	name, err := r.MarkOffline(sessionID)
	if err != nil {
		return Key{}, err
	}

	key := Key{RoomID: r.ID, Player: name}
	m.mu.Lock()
	m.scheduleLocked(key, r, m.clock.Now().Add(m.grace))
	m.mu.Unlock()

	m.logger.Info().
		Str("room_id", key.RoomID).
		Str("player", key.Player).
		Dur("grace", m.grace).
		Msg("grace period started")
	return key, nil
}

// Rejoin cancels the pending removal and then rebinds the retained record to
// sessionID. A failed rebind re-arms the timer for whatever grace is left.
func (m *Manager) Rejoin(r *room.Room, name, token, sessionID string) (string, error) {
	key := Key{RoomID: r.ID, Player: name}

	m.mu.Lock()
	p := m.takeLocked(key)
	m.mu.Unlock()

	previous, err := r.Rebind(name, token, sessionID)
	if err != nil {
		if p != nil {
			m.mu.Lock()
			if _, again := m.timers[key]; !again {
				m.scheduleLocked(key, p.room, p.deadline)
			}
			m.mu.Unlock()
		}
		return "", err
	}

	m.logger.Info().
		Str("room_id", key.RoomID).
		Str("player", key.Player).
		Str("session_id", sessionID).
		Bool("timer_cancelled", p != nil).
		Msg("player reclaimed record")
	return previous, nil
}

// Cancel stops a pending removal.
func (m *Manager) Cancel(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeLocked(key) != nil
}

// Pending reports whether key has a live timer.
func (m *Manager) Pending(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[key]
	return ok
}

// Deadline returns when the pending removal for key fires.
func (m *Manager) Deadline(key Key) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return p.deadline, true
}

// Len returns the number of pending removals.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// ForgetRoom cancels every timer of a deleted room.
func (m *Manager) ForgetRoom(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.timers {
		if key.RoomID == roomID {
			m.takeLocked(key)
			n++
		}
	}
	return n
}

// Stop cancels every pending timer.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.timers {
		m.takeLocked(key)
	}
}

func (m *Manager) scheduleLocked(key Key, r *room.Room, deadline time.Time) {
	if old, ok := m.timers[key]; ok {
		old.timer.Stop()
	}

	m.gen++
	gen := m.gen
	delay := deadline.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}
	m.timers[key] = &pending{
		timer:    m.clock.AfterFunc(delay, func() { m.expire(key, gen) }),
		room:     r,
		deadline: deadline,
		gen:      gen,
	}
}

func (m *Manager) takeLocked(key Key) *pending {
	p, ok := m.timers[key]
	if !ok {
		return nil
	}
	p.timer.Stop()
	delete(m.timers, key)
	return p
}

func (m *Manager) expire(key Key, gen uint64) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().Interface("panic", rec).Str("room_id", key.RoomID).Msg("grace timer panicked")
		}
	}()

	m.mu.Lock()
	p, ok := m.timers[key]
	if !ok || p.gen != gen {
		// Cancelled or replaced after this timer already fired.
		m.mu.Unlock()
		return
	}
	delete(m.timers, key)
	callbacks := append([]func(string, room.Departure){}, m.onExpire...)
	m.mu.Unlock()

	dep, err := p.room.RemoveOffline(key.Player)
	if err != nil || !dep.Removed {
		m.logger.Debug().Str("room_id", key.RoomID).Str("player", key.Player).Msg("grace expired for a player no longer offline")
		return
	}

	m.logger.Info().
		Str("room_id", key.RoomID).
		Str("player", key.Player).
		Bool("room_empty", dep.Empty).
		Msg("grace period expired, player removed")

	for _, fn := range callbacks {
		fn(key.RoomID, dep)
	}
}
