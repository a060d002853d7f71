package room

import (
	"crypto/subtle"

	"github.com/wricardo/surfrace/race/protocol"
)

// MarkOffline flags the player bound to sessionID as disconnected while
// keeping the record. A racing room pauses. The player name is returned as
// the key for the grace timer.
func (r *Room) MarkOffline(sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[sessionID]
	if !ok {
		return "", ErrNotInRoom
	}
	if !p.online() {
		return p.Name, nil
	}

	p.Status = StatusOffline
	r.broadcastLocked(protocol.NewMessage(protocol.KindPlayersUpdated, protocol.PlayersUpdated{
		Players: r.viewsLocked(),
	}), "")
	r.logger.Info().Str("session_id", sessionID).Str("player", p.Name).Msg("player offline")

	if r.state == StateRacing {
		r.pauseLocked(p)
	}
	return p.Name, nil
}

// RemoveOffline removes the named player if it is still offline. It is the
// grace expiry path and behaves exactly like an explicit leave.
func (r *Room) RemoveOffline(name string) (Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.playerByNameLocked(name)
	if p == nil {
		return Departure{}, ErrPlayerNotFound
	}
	if p.online() {
		return Departure{Name: name, Empty: len(r.players) == 0}, nil
	}

	r.removeLocked(p)
	return Departure{Removed: true, Name: name, Empty: len(r.players) == 0}, nil
}

// Rebind re-attaches a retained offline record to a new session. The record,
// not the old session id, is authoritative: score, position, ready and
// finished state carry over untouched. It returns the previous session id.
func (r *Room) Rebind(name, token, sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRoomClosed
	}
	p := r.playerByNameLocked(name)
	if p == nil {
		return "", ErrPlayerNotFound
	}
	if p.online() {
		return "", ErrNameTaken
	}
	if token == "" && r.opts.RequireReconnectToken {
		return "", ErrNotAuthorized
	}
	if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(p.token)) != 1 {
		return "", ErrNotAuthorized
	}
	if _, taken := r.players[sessionID]; taken {
		return "", ErrAlreadyJoined
	}

	previous := p.SessionID
	delete(r.players, previous)
	p.SessionID = sessionID
	p.Status = StatusOnline
	r.players[sessionID] = p
	if r.hostID == previous {
		r.hostID = sessionID
	}

	players := r.viewsLocked()
	r.sendLocked(sessionID, protocol.NewMessage(protocol.KindRoomJoined, r.joinedLocked(p, players)))
	r.broadcastLocked(protocol.NewMessage(protocol.KindPlayerRejoined, protocol.PlayerRejoined{
		PreviousID: previous,
		PlayerID:   sessionID,
		PlayerName: p.Name,
		Players:    players,
	}), sessionID)
	r.logger.Info().
		Str("session_id", sessionID).
		Str("previous_session_id", previous).
		Str("player", p.Name).
		Msg("player rejoined")

	if r.state == StatePaused && r.allOnlineLocked() {
		r.resumeLocked(protocol.ReasonPlayersReconnected)
	}
	return previous, nil
}
