package room

import (
	"time"

	"github.com/wricardo/surfrace/race/protocol"
)

// SetReady toggles a player's ready flag. Outside the waiting state the
// request is ignored. In auto-start rooms the countdown begins as soon as at
// least two players are in the room and all of them are ready.
func (r *Room) SetReady(sessionID string, ready bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[sessionID]
	if !ok {
		return ErrNotInRoom
	}
	if r.closed || r.state != StateWaiting || p.Spectator {
		return nil
	}

	p.Ready = ready
	r.broadcastLocked(protocol.NewMessage(protocol.KindPlayersUpdated, protocol.PlayersUpdated{
		Players: r.viewsLocked(),
	}), "")

	if r.opts.AutoStart && r.canAutoStartLocked() {
		r.startCountdownLocked()
	}
	return nil
}

// ReadyCount returns the size of the ready set.
func (r *Room) ReadyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.players {
		if p.Ready {
			n++
		}
	}
	return n
}

func (r *Room) canAutoStartLocked() bool {
	active := r.activeLocked()
	if r.state != StateWaiting || len(active) < 2 {
		return false
	}
	for _, p := range active {
		if !p.Ready {
			return false
		}
	}
	return true
}

// Start is the host-issued start command.
func (r *Room) Start(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[sessionID]; !ok {
		return ErrNotInRoom
	}
	if r.closed {
		return ErrRoomClosed
	}
	if r.hostID != sessionID {
		return ErrNotAuthorized
	}
	if r.state != StateWaiting {
		return ErrRaceBusy
	}

	active := r.activeLocked()
	if len(active) < 2 {
		return ErrInsufficientPlayers
	}
	for _, p := range active {
		if !p.Ready {
			return ErrPlayersNotReady
		}
	}

	r.startCountdownLocked()
	return nil
}

func (r *Room) startCountdownLocked() {
	r.state = StateCountdown
	r.countdown = r.opts.CountdownSeconds

	r.logger.Info().Int("players", len(r.players)).Msg("countdown started")

	if r.countdown <= 0 {
		r.beginRaceLocked()
		return
	}
	r.broadcastLocked(protocol.NewMessage(protocol.KindRaceCountdown, protocol.RaceCountdown{
		Countdown: r.countdown,
	}), "")
	r.countdownTimer = r.clock.AfterFunc(time.Second, r.tick)
}

// tick runs once per second during the countdown. Once started the countdown
// always runs to zero unless the room empties or closes.
func (r *Room) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.recoverTimer("countdown")

	if r.closed || r.state != StateCountdown {
		return
	}

	r.countdown--
	r.broadcastLocked(protocol.NewMessage(protocol.KindRaceCountdown, protocol.RaceCountdown{
		Countdown: r.countdown,
	}), "")

	if r.countdown > 0 {
		r.countdownTimer = r.clock.AfterFunc(time.Second, r.tick)
		return
	}
	r.countdownTimer = nil
	r.beginRaceLocked()
}

func (r *Room) beginRaceLocked() {
	r.state = StateRacing
	r.countdown = 0
	r.startTime = r.clock.Now()
	for _, p := range r.players {
		p.resetRace()
	}

	r.broadcastLocked(protocol.NewMessage(protocol.KindRaceStart, protocol.RaceStart{
		StartTime: r.startTime.UnixMilli(),
		Players:   r.viewsLocked(),
	}), "")
	r.logger.Info().Int("players", len(r.players)).Msg("race started")

	// Someone dropped during the countdown.
	for _, p := range r.orderedLocked() {
		if !p.online() {
			r.pauseLocked(p)
			break
		}
	}
}

// Update applies a partial state update from a racer and relays it to
// everyone else. Updates outside the racing state are dropped.
func (r *Room) Update(sessionID string, upd protocol.PlayerUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[sessionID]
	if !ok {
		return ErrNotInRoom
	}
	if r.closed || r.state != StateRacing || p.Spectator {
		return nil
	}

	if upd.Position != nil {
		p.Position = *upd.Position
	}
	if upd.Lane != nil {
		p.Lane = *upd.Lane
	}
	if upd.IsJumping != nil {
		p.IsJumping = *upd.IsJumping
	}
	if upd.Score != nil {
		p.Score = *upd.Score
	}

	data := upd.Raw
	if len(data) == 0 {
		data = []byte("{}")
	}
	r.broadcastLocked(protocol.NewMessage(protocol.KindOpponentUpdate, protocol.OpponentUpdate{
		PlayerID: sessionID,
		Data:     data,
	}), sessionID)
	return nil
}

// Finish records a racer crossing the line. Finishes are accepted while the
// race is paused too, since clients keep running through an outage. The race
// ends once every active player has finished.
func (r *Room) Finish(sessionID string, score int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[sessionID]
	if !ok {
		return ErrNotInRoom
	}
	if r.closed || p.Finished || p.Spectator {
		return nil
	}
	if r.state != StateRacing && r.state != StatePaused {
		return nil
	}

	p.Finished = true
	p.FinishTime = r.clock.Now().Sub(r.startTime)
	p.Score = score

	r.broadcastLocked(protocol.NewMessage(protocol.KindPlayerFinishedRace, protocol.PlayerFinishedRace{
		PlayerID:   p.SessionID,
		PlayerName: p.Name,
		Score:      p.Score,
		Time:       p.FinishTime.Milliseconds(),
		Players:    r.viewsLocked(),
	}), "")
	r.logger.Info().Str("player", p.Name).Int("score", p.Score).Dur("time", p.FinishTime).Msg("player finished")

	if r.allActiveFinishedLocked() {
		r.endRaceLocked()
	}
	return nil
}

func (r *Room) endRaceLocked() {
	r.state = StateFinished
	rankings := r.rankingsLocked()

	r.broadcastLocked(protocol.NewMessage(protocol.KindRaceEnded, protocol.RaceEnded{
		Rankings: rankings,
	}), "")
	r.logger.Info().Int("ranked", len(rankings)).Msg("race ended")

	r.resetTimer = r.clock.AfterFunc(r.opts.ResetDelay, r.reset)
}

func (r *Room) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.recoverTimer("reset")

	if r.closed || r.state != StateFinished {
		return
	}

	r.resetTimer = nil
	r.state = StateWaiting
	r.startTime = time.Time{}
	r.countdown = r.opts.CountdownSeconds
	for _, p := range r.players {
		p.Ready = false
		p.resetRace()
	}

	r.broadcastLocked(protocol.NewMessage(protocol.KindRaceReset, protocol.RaceReset{
		Players: r.viewsLocked(),
	}), "")
	r.logger.Info().Msg("room reset")
}

// activeLocked returns the racing (non-spectator) players in join order.
func (r *Room) activeLocked() []*Player {
	ordered := r.orderedLocked()
	active := ordered[:0]
	for _, p := range ordered {
		if !p.Spectator {
			active = append(active, p)
		}
	}
	return active
}

func (r *Room) allActiveFinishedLocked() bool {
	for _, p := range r.players {
		if !p.Spectator && !p.Finished {
			return false
		}
	}
	return true
}

func (r *Room) pauseLocked(p *Player) {
	r.state = StatePaused
	r.broadcastLocked(protocol.NewMessage(protocol.KindRacePaused, protocol.RacePaused{
		Reason:     protocol.ReasonPlayerDisconnected,
		PlayerID:   p.SessionID,
		PlayerName: p.Name,
	}), "")
	r.logger.Info().Str("player", p.Name).Msg("race paused")
}

// resumeLocked returns to racing. The start time is left untouched so finish
// times keep counting through the outage.
func (r *Room) resumeLocked(reason string) {
	r.state = StateRacing
	r.broadcastLocked(protocol.NewMessage(protocol.KindRaceResumed, protocol.RaceResumed{
		Reason: reason,
	}), "")
	r.logger.Info().Str("reason", reason).Msg("race resumed")
}
