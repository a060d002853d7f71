package room

import (
	"time"

	"github.com/wricardo/surfrace/race/protocol"
)

// Status is a player's connection status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// StartZ is the track position every racer spawns at.
const StartZ = -4000

// Player is a roster entry. Records are owned by their Room and only mutated
// under the room lock.
type Player struct {
	SessionID  string
	Name       string
	Score      int
	Position   protocol.Vec3
	Lane       int
	IsJumping  bool
	Ready      bool
	Finished   bool
	FinishTime time.Duration
	Status     Status
	Colors     protocol.Colors
	Spectator  bool
	JoinedAt   time.Time

	token string
	seq   uint64
}

func (p *Player) online() bool {
	return p.Status == StatusOnline
}

// joinedBefore orders players by join time, falling back to join sequence so
// that equal timestamps still give a total order.
func (p *Player) joinedBefore(o *Player) bool {
	if !p.JoinedAt.Equal(o.JoinedAt) {
		return p.JoinedAt.Before(o.JoinedAt)
	}
	return p.seq < o.seq
}

func (p *Player) resetRace() {
	p.Score = 0
	p.Position = protocol.Vec3{Z: StartZ}
	p.Lane = 0
	p.IsJumping = false
	p.Finished = false
	p.FinishTime = 0
}

func (p *Player) view(hostID string) protocol.PlayerView {
	v := protocol.PlayerView{
		ID:        p.SessionID,
		Name:      p.Name,
		Score:     p.Score,
		Position:  p.Position,
		Lane:      p.Lane,
		IsJumping: p.IsJumping,
		Ready:     p.Ready,
		Finished:  p.Finished,
		Status:    string(p.Status),
		Colors:    p.Colors,
		IsHost:    p.SessionID == hostID,
		Spectator: p.Spectator,
		JoinedAt:  p.JoinedAt.UnixMilli(),
	}
	if p.Finished {
		ms := p.FinishTime.Milliseconds()
		v.FinishTime = &ms
	}
	return v
}
