package room

import (
	"sort"

	"github.com/wricardo/surfrace/race/protocol"
)

// migrateHostLocked hands the host role to the longest-standing remaining
// player, or clears it when the room is empty.
func (r *Room) migrateHostLocked() {
	var next *Player
	for _, p := range r.players {
		if next == nil || p.joinedBefore(next) {
			next = p
		}
	}
	if next == nil {
		r.hostID = ""
		return
	}
	r.hostID = next.SessionID
	r.logger.Info().Str("session_id", next.SessionID).Str("player", next.Name).Msg("host migrated")
}

// Rankings computes the standings of the current roster.
func (r *Room) Rankings() []protocol.Ranking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rankingsLocked()
}

// rankingsLocked orders active players by score, highest first. Equal scores
// keep join order.
func (r *Room) rankingsLocked() []protocol.Ranking {
	active := r.activeLocked()
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Score > active[j].Score
	})

	rankings := make([]protocol.Ranking, 0, len(active))
	for i, p := range active {
		entry := protocol.Ranking{
			Rank:       i + 1,
			PlayerID:   p.SessionID,
			PlayerName: p.Name,
			Score:      p.Score,
		}
		if p.Finished {
			ms := p.FinishTime.Milliseconds()
			entry.Time = &ms
		}
		rankings = append(rankings, entry)
	}
	return rankings
}
