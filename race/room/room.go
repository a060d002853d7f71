package room

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wricardo/surfrace/race/protocol"
)

// State is the race state of a room.
type State string

const (
	StateWaiting   State = "waiting"
	StateCountdown State = "countdown"
	StateRacing    State = "racing"
	StatePaused    State = "paused"
	StateFinished  State = "finished"
)

// MaxNameLength bounds player display names, in runes.
const MaxNameLength = 32

// Notifier fans a message out to a set of sessions. Deliver is called with
// the room lock held and must not block.
type Notifier interface {
	Deliver(sessionIDs []string, msg protocol.Message)
}

// Options are the per-room rules.
type Options struct {
	MaxPlayers       int
	CountdownSeconds int
	ResetDelay       time.Duration
	// AutoStart starts the countdown as soon as every player is ready.
	// When false the host has to send startRace.
	AutoStart bool
	// Classroom makes the room creator a non-racing spectator.
	Classroom bool
	// RequireReconnectToken rejects rejoins that do not present the token
	// issued on join.
	RequireReconnectToken bool
}

// Room is a single race session.
type Room struct {
	ID string

	opts     Options
	clock    clockwork.Clock
	notifier Notifier
	logger   zerolog.Logger

	mu         sync.Mutex
	state      State
	hostID     string
	players    map[string]*Player
	seq        uint64
	countdown  int
	startTime  time.Time
	createdAt  time.Time
	emptySince time.Time
	closed     bool

	countdownTimer clockwork.Timer
	resetTimer     clockwork.Timer
}

// New creates an empty room in the waiting state.
func New(id string, opts Options, clock clockwork.Clock, notifier Notifier, logger zerolog.Logger) *Room {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = 1
	}
	now := clock.Now()
	return &Room{
		ID:         id,
		opts:       opts,
		clock:      clock,
		notifier:   notifier,
		logger:     logger.With().Str("room_id", id).Logger(),
		state:      StateWaiting,
		players:    make(map[string]*Player),
		countdown:  opts.CountdownSeconds,
		createdAt:  now,
		emptySince: now,
	}
}

// Host seats the creator of the room and answers with roomCreated.
func (r *Room) Host(sessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.admitLocked(sessionID, name)
	if err != nil {
		return err
	}

	r.sendLocked(sessionID, protocol.NewMessage(protocol.KindRoomCreated, protocol.RoomCreated{
		RoomID:         r.ID,
		PlayerID:       sessionID,
		HostID:         r.hostID,
		Players:        r.viewsLocked(),
		MaxPlayers:     r.opts.MaxPlayers,
		ReconnectToken: p.token,
	}))

	r.logger.Info().Str("session_id", sessionID).Str("player", p.Name).Msg("room created")
	return nil
}

// Join admits a new player. Fresh joins are only accepted while waiting.
// The joiner receives roomJoined, everyone else playerJoined.
func (r *Room) Join(sessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.admitLocked(sessionID, name)
	if err != nil {
		return err
	}

	players := r.viewsLocked()
	r.sendLocked(sessionID, protocol.NewMessage(protocol.KindRoomJoined, r.joinedLocked(p, players)))
	r.broadcastLocked(protocol.NewMessage(protocol.KindPlayerJoined, protocol.PlayerJoined{
		PlayerID: sessionID,
		Players:  players,
	}), sessionID)

	r.logger.Info().
		Str("session_id", sessionID).
		Str("player", p.Name).
		Int("players", len(r.players)).
		Int("max_players", r.opts.MaxPlayers).
		Msg("player joined")
	return nil
}

func (r *Room) admitLocked(sessionID, name string) (*Player, error) {
	if r.closed {
		return nil, ErrRoomClosed
	}
	if r.state != StateWaiting {
		return nil, ErrRaceInProgress
	}
	if len(r.players) >= r.opts.MaxPlayers {
		return nil, ErrRoomFull
	}
	if _, ok := r.players[sessionID]; ok {
		return nil, ErrAlreadyJoined
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Player%d", r.seq+1)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	// Offline records keep their name reserved for the grace window.
	if r.playerByNameLocked(name) != nil {
		return nil, ErrNameTaken
	}

	r.seq++
	p := &Player{
		SessionID: sessionID,
		Name:      name,
		Position:  protocol.Vec3{Z: StartZ},
		Status:    StatusOnline,
		Colors:    ColorFor(int(r.seq - 1)),
		JoinedAt:  r.clock.Now(),
		token:     uuid.NewString(),
		seq:       r.seq,
	}
	if len(r.players) == 0 {
		r.hostID = sessionID
		p.Spectator = r.opts.Classroom
	}

	r.players[sessionID] = p
	r.emptySince = time.Time{}
	return p, nil
}

func (r *Room) joinedLocked(p *Player, players []protocol.PlayerView) protocol.RoomJoined {
	joined := protocol.RoomJoined{
		RoomID:         r.ID,
		PlayerID:       p.SessionID,
		HostID:         r.hostID,
		Players:        players,
		MaxPlayers:     r.opts.MaxPlayers,
		State:          string(r.state),
		RaceInProgress: r.state == StateCountdown || r.state == StateRacing || r.state == StatePaused,
		ReconnectToken: p.token,
	}
	if !r.startTime.IsZero() {
		joined.StartTime = r.startTime.UnixMilli()
	}
	return joined
}

// Departure describes the outcome of a removal.
type Departure struct {
	Removed bool
	Name    string
	Empty   bool
}

// Leave removes a player on explicit request.
func (r *Room) Leave(sessionID string) (Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[sessionID]
	if !ok {
		return Departure{}, ErrNotInRoom
	}

	r.removeLocked(p)
	return Departure{Removed: true, Name: p.Name, Empty: len(r.players) == 0}, nil
}

// removeLocked is the single removal path shared by leave and grace expiry.
func (r *Room) removeLocked(p *Player) {
	delete(r.players, p.SessionID)
	wasHost := r.hostID == p.SessionID
	if wasHost {
		r.migrateHostLocked()
	}

	r.logger.Info().
		Str("session_id", p.SessionID).
		Str("player", p.Name).
		Int("remaining", len(r.players)).
		Msg("player left")

	if len(r.players) == 0 {
		r.stopTimersLocked()
		r.state = StateWaiting
		r.countdown = r.opts.CountdownSeconds
		r.startTime = time.Time{}
		r.emptySince = r.clock.Now()
		return
	}

	r.broadcastLocked(protocol.NewMessage(protocol.KindPlayerLeft, protocol.PlayerLeft{
		PlayerID: p.SessionID,
		Players:  r.viewsLocked(),
	}), "")

	if wasHost {
		host := r.players[r.hostID]
		r.broadcastLocked(protocol.NewMessage(protocol.KindNewHost, protocol.NewHost{
			HostID:   host.SessionID,
			HostName: host.Name,
		}), "")
	}

	switch r.state {
	case StateRacing, StatePaused:
		if r.allActiveFinishedLocked() {
			r.endRaceLocked()
			return
		}
		if r.state == StatePaused && r.allOnlineLocked() {
			r.resumeLocked(protocol.ReasonPlayerRemoved)
		}
	}
}

// Snapshot returns the full room state.
func (r *Room) Snapshot() protocol.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() protocol.RoomSnapshot {
	snap := protocol.RoomSnapshot{
		ID:         r.ID,
		State:      string(r.state),
		HostID:     r.hostID,
		Players:    r.viewsLocked(),
		MaxPlayers: r.opts.MaxPlayers,
		Countdown:  r.countdown,
		CreatedAt:  r.createdAt.UnixMilli(),
		AutoStart:  r.opts.AutoStart,
	}
	if !r.startTime.IsZero() {
		snap.StartTime = r.startTime.UnixMilli()
	}
	return snap
}

// SendState pushes a roomState resync to one member.
func (r *Room) SendState(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[sessionID]; !ok {
		return ErrNotInRoom
	}
	r.sendLocked(sessionID, protocol.NewMessage(protocol.KindRoomState, r.snapshotLocked()))
	return nil
}

// Summary returns the listing entry and whether the room accepts fresh joins.
func (r *Room) Summary() (protocol.RoomSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := protocol.RoomSummary{
		ID:          r.ID,
		PlayerCount: len(r.players),
		MaxPlayers:  r.opts.MaxPlayers,
		HostName:    "Unknown",
	}
	if host, ok := r.players[r.hostID]; ok {
		summary.HostName = host.Name
	}
	joinable := !r.closed && r.state == StateWaiting && len(r.players) < r.opts.MaxPlayers
	return summary, joinable
}

// State returns the current race state.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HostID returns the session id of the host, empty when the room is empty.
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// PlayerCount returns the roster size, offline players included.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Player returns a copy of the record bound to sessionID.
func (r *Room) Player(sessionID string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[sessionID]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// PlayerByName returns a copy of the record with the given name.
func (r *Room) PlayerByName(name string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.playerByNameLocked(name)
	if p == nil {
		return Player{}, false
	}
	return *p, true
}

// CreatedAt returns the room creation time.
func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// IdleFor reports whether the room has been empty for at least ttl.
func (r *Room) IdleFor(now time.Time, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players) == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) >= ttl
}

// Empty reports whether the roster is empty.
func (r *Room) Empty() bool {
	return r.PlayerCount() == 0
}

// Close stops the room timers. A closed room rejects every command.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.stopTimersLocked()
}

// CloseIfEmpty closes the room only if nobody is in it. The check and the
// close happen under one lock so a concurrent join either lands first or sees
// a closed room.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) > 0 {
		return false
	}
	r.closed = true
	r.stopTimersLocked()
	return true
}

// Closed reports whether Close has been called.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) stopTimersLocked() {
	if r.countdownTimer != nil {
		r.countdownTimer.Stop()
		r.countdownTimer = nil
	}
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}
}

func (r *Room) playerByNameLocked(name string) *Player {
	for _, p := range r.players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// orderedLocked returns the roster in join order.
func (r *Room) orderedLocked() []*Player {
	players := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].joinedBefore(players[j])
	})
	return players
}

func (r *Room) viewsLocked() []protocol.PlayerView {
	ordered := r.orderedLocked()
	views := make([]protocol.PlayerView, 0, len(ordered))
	for _, p := range ordered {
		views = append(views, p.view(r.hostID))
	}
	return views
}

func (r *Room) allOnlineLocked() bool {
	for _, p := range r.players {
		if !p.online() {
			return false
		}
	}
	return true
}

// broadcastLocked delivers msg to every online member except one session.
func (r *Room) broadcastLocked(msg protocol.Message, except string) {
	ids := make([]string, 0, len(r.players))
	for id, p := range r.players {
		if id == except || !p.online() {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	r.notifier.Deliver(ids, msg)
}

func (r *Room) sendLocked(sessionID string, msg protocol.Message) {
	r.notifier.Deliver([]string{sessionID}, msg)
}

// recoverTimer keeps a panicking timer callback from taking the process down.
func (r *Room) recoverTimer(name string) {
	if rec := recover(); rec != nil {
		r.logger.Error().Str("timer", name).Interface("panic", rec).Msg("room timer panicked")
	}
}
