package room

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/surfrace/race/protocol"
)

type delivery struct {
	to  []string
	msg protocol.Message
}

// recorder is a Notifier that keeps every delivery for inspection.
type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recorder) Deliver(ids []string, msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{to: append([]string(nil), ids...), msg: msg})
}

// received returns the messages of the given kind delivered to session.
func (r *recorder) received(session string, kind protocol.Kind) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, d := range r.deliveries {
		if d.msg.Type != kind {
			continue
		}
		for _, id := range d.to {
			if id == session {
				out = append(out, d.msg)
				break
			}
		}
	}
	return out
}

func (r *recorder) countdowns(session string) []int {
	var values []int
	for _, msg := range r.received(session, protocol.KindRaceCountdown) {
		values = append(values, msg.Data.(protocol.RaceCountdown).Countdown)
	}
	return values
}

func testOptions() Options {
	return Options{
		MaxPlayers:       4,
		CountdownSeconds: 3,
		ResetDelay:       10 * time.Second,
		AutoStart:        true,
	}
}

func newTestRoom(t *testing.T, opts Options) (*Room, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	r := New("ABC123", opts, clock, rec, zerolog.Nop())
	t.Cleanup(r.Close)
	return r, clock, rec
}

// runCountdown advances the clock one second at a time until the race starts.
func runCountdown(t *testing.T, r *Room, clock *clockwork.FakeClock) {
	t.Helper()
	require.Equal(t, StateCountdown, r.State())
	for remaining := r.Snapshot().Countdown; remaining > 0; remaining-- {
		clock.Advance(time.Second)
		want := remaining - 1
		require.Eventually(t, func() bool {
			return r.Snapshot().Countdown == want
		}, time.Second, time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return r.State() == StateRacing
	}, time.Second, time.Millisecond)
}

func startRace(t *testing.T, r *Room, clock *clockwork.FakeClock, sessions ...string) {
	t.Helper()
	for _, s := range sessions {
		require.NoError(t, r.SetReady(s, true))
	}
	runCountdown(t, r, clock)
}

func TestHostAndJoin(t *testing.T) {
	r, _, rec := newTestRoom(t, testOptions())

	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))

	snap := r.Snapshot()
	assert.Equal(t, "waiting", snap.State)
	assert.Equal(t, "s1", snap.HostID)
	require.Len(t, snap.Players, 2)
	assert.Equal(t, "Alice", snap.Players[0].Name)
	assert.True(t, snap.Players[0].IsHost)
	assert.Equal(t, float64(StartZ), snap.Players[1].Position.Z)
	assert.NotEqual(t, snap.Players[0].Colors, snap.Players[1].Colors)

	created := rec.received("s1", protocol.KindRoomCreated)
	require.Len(t, created, 1)
	assert.NotEmpty(t, created[0].Data.(protocol.RoomCreated).ReconnectToken)

	joined := rec.received("s2", protocol.KindRoomJoined)
	require.Len(t, joined, 1)
	assert.False(t, joined[0].Data.(protocol.RoomJoined).RaceInProgress)

	assert.Len(t, rec.received("s1", protocol.KindPlayerJoined), 1)
	assert.Empty(t, rec.received("s2", protocol.KindPlayerJoined))
}

func TestJoinErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, r *Room, clock *clockwork.FakeClock)
		session string
		player  string
		wantErr error
	}{
		{
			name: "room full",
			setup: func(t *testing.T, r *Room, _ *clockwork.FakeClock) {
				require.NoError(t, r.Join("s2", "Bob"))
				require.NoError(t, r.Join("s3", "Carol"))
				require.NoError(t, r.Join("s4", "Dave"))
			},
			session: "s5",
			player:  "Eve",
			wantErr: ErrRoomFull,
		},
		{
			name:    "name taken",
			setup:   func(*testing.T, *Room, *clockwork.FakeClock) {},
			session: "s2",
			player:  "Alice",
			wantErr: ErrNameTaken,
		},
		{
			name: "name reserved by offline record",
			setup: func(t *testing.T, r *Room, _ *clockwork.FakeClock) {
				require.NoError(t, r.Join("s2", "Bob"))
				_, err := r.MarkOffline("s2")
				require.NoError(t, err)
			},
			session: "s3",
			player:  "Bob",
			wantErr: ErrNameTaken,
		},
		{
			name: "race in progress",
			setup: func(t *testing.T, r *Room, clock *clockwork.FakeClock) {
				require.NoError(t, r.Join("s2", "Bob"))
				startRace(t, r, clock, "s1", "s2")
			},
			session: "s3",
			player:  "Carol",
			wantErr: ErrRaceInProgress,
		},
		{
			name:    "same session twice",
			setup:   func(*testing.T, *Room, *clockwork.FakeClock) {},
			session: "s1",
			player:  "Other",
			wantErr: ErrAlreadyJoined,
		},
		{
			name:    "name too long",
			setup:   func(*testing.T, *Room, *clockwork.FakeClock) {},
			session: "s2",
			player:  "abcdefghijklmnopqrstuvwxyz0123456789",
			wantErr: ErrInvalidName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, clock, _ := newTestRoom(t, testOptions())
			require.NoError(t, r.Host("s1", "Alice"))
			tt.setup(t, r, clock)
			before := r.PlayerCount()

			err := r.Join(tt.session, tt.player)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, r.PlayerCount())
			assert.LessOrEqual(t, r.PlayerCount(), 4)
		})
	}
}

func TestDefaultName(t *testing.T) {
	r, _, _ := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "  "))
	require.NoError(t, r.Join("s2", ""))

	p1, ok := r.Player("s1")
	require.True(t, ok)
	p2, ok := r.Player("s2")
	require.True(t, ok)
	assert.Equal(t, "Player1", p1.Name)
	assert.Equal(t, "Player2", p2.Name)
}

// Scenario A: both players ready, countdown 3,2,1,0, racing with reset scores.
func TestAutoStartCountdown(t *testing.T) {
	r, clock, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))

	require.NoError(t, r.SetReady("s1", true))
	assert.Equal(t, StateWaiting, r.State())
	assert.Equal(t, 1, r.ReadyCount())

	require.NoError(t, r.SetReady("s2", true))
	assert.Equal(t, StateCountdown, r.State())

	// A repeated ready during the countdown is ignored and does not restart it.
	require.NoError(t, r.SetReady("s2", true))

	runCountdown(t, r, clock)

	assert.Equal(t, []int{3, 2, 1, 0}, rec.countdowns("s1"))
	assert.Equal(t, []int{3, 2, 1, 0}, rec.countdowns("s2"))
	require.Len(t, rec.received("s1", protocol.KindRaceStart), 1)

	snap := r.Snapshot()
	assert.Equal(t, "racing", snap.State)
	assert.Equal(t, clock.Now().UnixMilli(), snap.StartTime)
	require.Len(t, snap.Players, 2)
	for _, p := range snap.Players {
		assert.Zero(t, p.Score)
		assert.False(t, p.Finished)
		assert.Nil(t, p.FinishTime)
	}
}

func TestAutoStartNeedsTwoPlayers(t *testing.T) {
	r, _, _ := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.SetReady("s1", true))
	assert.Equal(t, StateWaiting, r.State())

	require.NoError(t, r.Join("s2", "Bob"))
	assert.Equal(t, StateWaiting, r.State())
	require.NoError(t, r.SetReady("s2", true))
	assert.Equal(t, StateCountdown, r.State())
}

func TestHostGatedStart(t *testing.T) {
	opts := testOptions()
	opts.AutoStart = false
	r, clock, _ := newTestRoom(t, opts)
	require.NoError(t, r.Host("s1", "Alice"))

	assert.ErrorIs(t, r.Start("s1"), ErrInsufficientPlayers)

	require.NoError(t, r.Join("s2", "Bob"))
	assert.ErrorIs(t, r.Start("s2"), ErrNotAuthorized)
	assert.ErrorIs(t, r.Start("s3"), ErrNotInRoom)

	require.NoError(t, r.SetReady("s1", true))
	assert.ErrorIs(t, r.Start("s1"), ErrPlayersNotReady)

	require.NoError(t, r.SetReady("s2", true))
	assert.Equal(t, StateWaiting, r.State(), "host-gated rooms never auto-start")

	require.NoError(t, r.Start("s1"))
	assert.ErrorIs(t, r.Start("s1"), ErrRaceBusy)

	runCountdown(t, r, clock)
}

func TestClassroomSpectator(t *testing.T) {
	opts := testOptions()
	opts.AutoStart = false
	opts.Classroom = true
	r, clock, rec := newTestRoom(t, opts)

	require.NoError(t, r.Host("coach", "Coach"))
	require.NoError(t, r.Join("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))

	host, _ := r.Player("coach")
	assert.True(t, host.Spectator)

	// Spectators cannot ready up and are not required to.
	require.NoError(t, r.SetReady("coach", true))
	assert.Equal(t, 0, r.ReadyCount())

	require.NoError(t, r.SetReady("s1", true))
	require.NoError(t, r.SetReady("s2", true))
	require.NoError(t, r.Start("coach"))
	runCountdown(t, r, clock)

	require.NoError(t, r.Finish("s1", 200))
	require.NoError(t, r.Finish("s2", 100))
	assert.Equal(t, StateFinished, r.State())

	ended := rec.received("coach", protocol.KindRaceEnded)
	require.Len(t, ended, 1)
	rankings := ended[0].Data.(protocol.RaceEnded).Rankings
	require.Len(t, rankings, 2)
	assert.Equal(t, "Alice", rankings[0].PlayerName)
	assert.Equal(t, "Bob", rankings[1].PlayerName)
}

func TestUpdateRelay(t *testing.T) {
	r, clock, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))

	lane := 2
	upd := protocol.PlayerUpdate{Lane: &lane, Raw: []byte(`{"lane":2}`)}

	// Dropped before the race starts.
	require.NoError(t, r.Update("s1", upd))
	assert.Empty(t, rec.received("s2", protocol.KindOpponentUpdate))

	startRace(t, r, clock, "s1", "s2")

	score := 42
	pos := protocol.Vec3{X: 1, Y: 2, Z: -3990}
	require.NoError(t, r.Update("s1", protocol.PlayerUpdate{Position: &pos, Raw: []byte(`{"position":{"x":1,"y":2,"z":-3990}}`)}))
	require.NoError(t, r.Update("s1", protocol.PlayerUpdate{Score: &score, Raw: []byte(`{"score":42}`)}))

	p, _ := r.Player("s1")
	assert.Equal(t, pos, p.Position)
	assert.Equal(t, 42, p.Score)

	relayed := rec.received("s2", protocol.KindOpponentUpdate)
	require.Len(t, relayed, 2)
	first := relayed[0].Data.(protocol.OpponentUpdate)
	assert.Equal(t, "s1", first.PlayerID)
	assert.JSONEq(t, `{"position":{"x":1,"y":2,"z":-3990}}`, string(first.Data))
	assert.Empty(t, rec.received("s1", protocol.KindOpponentUpdate), "sender does not get its own update")
}

// Scenario D: rankings by score, then reset after the delay.
func TestFinishRankingsAndReset(t *testing.T) {
	r, clock, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	startRace(t, r, clock, "s1", "s2")

	clock.Advance(5 * time.Second)
	require.NoError(t, r.Finish("s2", 300))
	assert.Equal(t, StateRacing, r.State())

	// Finishing twice is ignored.
	require.NoError(t, r.Finish("s2", 9999))
	bob, _ := r.Player("s2")
	assert.Equal(t, 300, bob.Score)
	assert.Equal(t, 5*time.Second, bob.FinishTime)

	clock.Advance(2 * time.Second)
	require.NoError(t, r.Finish("s1", 500))
	assert.Equal(t, StateFinished, r.State())

	ended := rec.received("s1", protocol.KindRaceEnded)
	require.Len(t, ended, 1)
	rankings := ended[0].Data.(protocol.RaceEnded).Rankings
	require.Len(t, rankings, 2)
	assert.Equal(t, 1, rankings[0].Rank)
	assert.Equal(t, "Alice", rankings[0].PlayerName)
	assert.Equal(t, 500, rankings[0].Score)
	require.NotNil(t, rankings[0].Time)
	assert.Equal(t, int64(7000), *rankings[0].Time)
	assert.Equal(t, 2, rankings[1].Rank)
	assert.Equal(t, "Bob", rankings[1].PlayerName)
	assert.Equal(t, 300, rankings[1].Score)

	// Updates after the finish are dropped.
	score := 1
	require.NoError(t, r.Update("s1", protocol.PlayerUpdate{Score: &score}))
	alice, _ := r.Player("s1")
	assert.Equal(t, 500, alice.Score)

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return r.State() == StateWaiting
	}, time.Second, time.Millisecond)

	require.Len(t, rec.received("s2", protocol.KindRaceReset), 1)
	for _, p := range r.Snapshot().Players {
		assert.False(t, p.Ready)
		assert.False(t, p.Finished)
		assert.Zero(t, p.Score)
	}
}

func TestRankingsTieKeepsJoinOrder(t *testing.T) {
	r, clock, _ := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	require.NoError(t, r.Join("s3", "Carol"))
	startRace(t, r, clock, "s1", "s2", "s3")

	require.NoError(t, r.Finish("s3", 100))
	require.NoError(t, r.Finish("s2", 100))

	rankings := r.Rankings()
	require.Len(t, rankings, 3)
	assert.Equal(t, []string{"Bob", "Carol", "Alice"}, []string{
		rankings[0].PlayerName, rankings[1].PlayerName, rankings[2].PlayerName,
	})
	for i, entry := range rankings {
		assert.Equal(t, i+1, entry.Rank)
	}
	assert.Nil(t, rankings[2].Time, "unfinished players have no time")
}

// Scenario B plus finish time accounting across the pause.
func TestPauseAndResumeKeepsStartTime(t *testing.T) {
	r, clock, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	startRace(t, r, clock, "s1", "s2")

	score := 120
	require.NoError(t, r.Update("s1", protocol.PlayerUpdate{Score: &score}))
	clock.Advance(2 * time.Second)

	name, err := r.MarkOffline("s1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, StatePaused, r.State())

	paused := rec.received("s2", protocol.KindRacePaused)
	require.Len(t, paused, 1)
	assert.Equal(t, protocol.RacePaused{
		Reason:     protocol.ReasonPlayerDisconnected,
		PlayerID:   "s1",
		PlayerName: "Alice",
	}, paused[0].Data)

	// Idempotent.
	_, err = r.MarkOffline("s1")
	require.NoError(t, err)
	require.Len(t, rec.received("s2", protocol.KindRacePaused), 1)

	clock.Advance(3 * time.Second)
	previous, err := r.Rebind("Alice", "", "s1b")
	require.NoError(t, err)
	assert.Equal(t, "s1", previous)
	assert.Equal(t, StateRacing, r.State())
	assert.Equal(t, "s1b", r.HostID())

	alice, ok := r.Player("s1b")
	require.True(t, ok)
	assert.Equal(t, 120, alice.Score)
	assert.True(t, alice.Ready)
	_, ok = r.Player("s1")
	assert.False(t, ok)

	joined := rec.received("s1b", protocol.KindRoomJoined)
	require.Len(t, joined, 1)
	assert.True(t, joined[0].Data.(protocol.RoomJoined).RaceInProgress)
	require.Len(t, rec.received("s2", protocol.KindPlayerRejoined), 1)
	require.Len(t, rec.received("s2", protocol.KindRaceResumed), 1)

	clock.Advance(time.Second)
	require.NoError(t, r.Finish("s1b", 500))
	alice, _ = r.Player("s1b")
	assert.Equal(t, 6*time.Second, alice.FinishTime)
}

func TestDisconnectDuringCountdownPausesAtStart(t *testing.T) {
	r, clock, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	require.NoError(t, r.SetReady("s1", true))
	require.NoError(t, r.SetReady("s2", true))

	_, err := r.MarkOffline("s2")
	require.NoError(t, err)
	assert.Equal(t, StateCountdown, r.State())

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		want := 2 - i
		require.Eventually(t, func() bool { return r.Snapshot().Countdown == want }, time.Second, time.Millisecond)
	}
	require.Eventually(t, func() bool { return r.State() == StatePaused }, time.Second, time.Millisecond)
	require.Len(t, rec.received("s1", protocol.KindRaceStart), 1)
	require.Len(t, rec.received("s1", protocol.KindRacePaused), 1)
}

func TestFinishWhilePaused(t *testing.T) {
	r, clock, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	startRace(t, r, clock, "s1", "s2")

	clock.Advance(2 * time.Second)
	_, err := r.MarkOffline("s1")
	require.NoError(t, err)
	require.Equal(t, StatePaused, r.State())

	clock.Advance(time.Second)
	require.NoError(t, r.Finish("s2", 300))
	bob, _ := r.Player("s2")
	assert.True(t, bob.Finished)
	assert.Equal(t, 3*time.Second, bob.FinishTime)
	assert.Equal(t, StatePaused, r.State(), "the offline racer has not finished yet")
	require.Len(t, rec.received("s2", protocol.KindPlayerFinishedRace), 1)

	_, err = r.Rebind("Alice", "", "s1b")
	require.NoError(t, err)
	assert.Equal(t, StateRacing, r.State())

	require.NoError(t, r.Finish("s1b", 500))
	assert.Equal(t, StateFinished, r.State())
	ended := rec.received("s2", protocol.KindRaceEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "Alice", ended[0].Data.(protocol.RaceEnded).Rankings[0].PlayerName)
}

func TestLastFinishWhilePausedEndsRace(t *testing.T) {
	r, clock, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	startRace(t, r, clock, "s1", "s2")

	require.NoError(t, r.Finish("s1", 500))
	_, err := r.MarkOffline("s1")
	require.NoError(t, err)
	require.Equal(t, StatePaused, r.State())

	require.NoError(t, r.Finish("s2", 300))
	assert.Equal(t, StateFinished, r.State())
	require.Len(t, rec.received("s2", protocol.KindRaceEnded), 1)

	// The reset still runs with the finished racer offline.
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return r.State() == StateWaiting }, time.Second, time.Millisecond)
	require.Len(t, rec.received("s2", protocol.KindRaceReset), 1)

	_, err = r.Rebind("Alice", "", "s1b")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, r.State())
	assert.Empty(t, rec.received("s2", protocol.KindRaceResumed))
}

func TestInputsOutsideRacing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, r *Room, clock *clockwork.FakeClock)
		state State
		// finishAccepted is whether a finish from Bob is recorded.
		finishAccepted bool
	}{
		{
			name:  "waiting",
			setup: func(t *testing.T, r *Room, clock *clockwork.FakeClock) {},
			state: StateWaiting,
		},
		{
			name: "countdown",
			setup: func(t *testing.T, r *Room, clock *clockwork.FakeClock) {
				require.NoError(t, r.SetReady("s1", true))
				require.NoError(t, r.SetReady("s2", true))
				require.NoError(t, r.SetReady("s3", true))
			},
			state: StateCountdown,
		},
		{
			name: "paused",
			setup: func(t *testing.T, r *Room, clock *clockwork.FakeClock) {
				startRace(t, r, clock, "s1", "s2", "s3")
				_, err := r.MarkOffline("s3")
				require.NoError(t, err)
			},
			state:          StatePaused,
			finishAccepted: true,
		},
		{
			name: "finished",
			setup: func(t *testing.T, r *Room, clock *clockwork.FakeClock) {
				startRace(t, r, clock, "s1", "s2", "s3")
				require.NoError(t, r.Finish("s1", 100))
				require.NoError(t, r.Finish("s2", 200))
				require.NoError(t, r.Finish("s3", 300))
			},
			state: StateFinished,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, clock, rec := newTestRoom(t, testOptions())
			require.NoError(t, r.Host("s1", "Alice"))
			require.NoError(t, r.Join("s2", "Bob"))
			require.NoError(t, r.Join("s3", "Carol"))
			tt.setup(t, r, clock)
			require.Equal(t, tt.state, r.State())

			finishes := len(rec.received("s1", protocol.KindPlayerFinishedRace))
			ended := len(rec.received("s1", protocol.KindRaceEnded))
			before, _ := r.Player("s2")

			score, lane := 4242, 2
			require.NoError(t, r.Update("s2", protocol.PlayerUpdate{Score: &score, Lane: &lane, Raw: []byte(`{"score":4242,"lane":2}`)}))
			assert.Empty(t, rec.received("s1", protocol.KindOpponentUpdate))
			after, _ := r.Player("s2")
			assert.Equal(t, before.Score, after.Score)
			assert.Equal(t, before.Lane, after.Lane)

			require.NoError(t, r.Finish("s2", 999))
			assert.Equal(t, tt.state, r.State())
			assert.Len(t, rec.received("s1", protocol.KindRaceEnded), ended)

			bob, _ := r.Player("s2")
			if tt.finishAccepted {
				assert.True(t, bob.Finished)
				assert.Equal(t, 999, bob.Score)
				assert.Len(t, rec.received("s1", protocol.KindPlayerFinishedRace), finishes+1)
			} else {
				assert.Equal(t, before.Finished, bob.Finished)
				assert.Equal(t, before.Score, bob.Score)
				assert.Len(t, rec.received("s1", protocol.KindPlayerFinishedRace), finishes)
			}
		})
	}
}

func TestRebindErrors(t *testing.T) {
	opts := testOptions()
	opts.RequireReconnectToken = true
	r, _, rec := newTestRoom(t, opts)
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	token := rec.received("s2", protocol.KindRoomJoined)[0].Data.(protocol.RoomJoined).ReconnectToken

	_, err := r.Rebind("Bob", token, "s3")
	assert.ErrorIs(t, err, ErrNameTaken, "online records cannot be taken over")

	_, err = r.Rebind("Nobody", "", "s3")
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	_, err = r.MarkOffline("s2")
	require.NoError(t, err)

	_, err = r.Rebind("Bob", "", "s3")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = r.Rebind("Bob", "wrong", "s3")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = r.Rebind("Bob", token, "s1")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	previous, err := r.Rebind("Bob", token, "s3")
	require.NoError(t, err)
	assert.Equal(t, "s2", previous)
}

// Scenario C: the host times out and the next player takes over.
func TestRemoveOfflineMigratesHost(t *testing.T) {
	r, _, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Bob"))
	require.NoError(t, r.Join("s2", "Alice"))
	require.NoError(t, r.Join("s3", "Carol"))

	_, err := r.MarkOffline("s1")
	require.NoError(t, err)

	dep, err := r.RemoveOffline("Bob")
	require.NoError(t, err)
	assert.True(t, dep.Removed)
	assert.False(t, dep.Empty)
	assert.Equal(t, "s2", r.HostID())

	hosts := rec.received("s3", protocol.KindNewHost)
	require.Len(t, hosts, 1)
	assert.Equal(t, protocol.NewHost{HostID: "s2", HostName: "Alice"}, hosts[0].Data)

	_, err = r.RemoveOffline("Bob")
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	// Online players are left alone.
	dep, err = r.RemoveOffline("Carol")
	require.NoError(t, err)
	assert.False(t, dep.Removed)
	assert.Equal(t, 2, r.PlayerCount())
}

func TestRemovalEndsOrResumesRace(t *testing.T) {
	t.Run("remaining racers finished", func(t *testing.T) {
		r, clock, rec := newTestRoom(t, testOptions())
		require.NoError(t, r.Host("s1", "Alice"))
		require.NoError(t, r.Join("s2", "Bob"))
		startRace(t, r, clock, "s1", "s2")

		require.NoError(t, r.Finish("s1", 100))
		_, err := r.Leave("s2")
		require.NoError(t, err)
		assert.Equal(t, StateFinished, r.State())
		require.Len(t, rec.received("s1", protocol.KindRaceEnded), 1)
	})

	t.Run("offline racer removed while paused", func(t *testing.T) {
		r, clock, rec := newTestRoom(t, testOptions())
		require.NoError(t, r.Host("s1", "Alice"))
		require.NoError(t, r.Join("s2", "Bob"))
		require.NoError(t, r.Join("s3", "Carol"))
		startRace(t, r, clock, "s1", "s2", "s3")

		_, err := r.MarkOffline("s3")
		require.NoError(t, err)
		assert.Equal(t, StatePaused, r.State())

		_, err = r.RemoveOffline("Carol")
		require.NoError(t, err)
		assert.Equal(t, StateRacing, r.State())
		resumed := rec.received("s1", protocol.KindRaceResumed)
		require.Len(t, resumed, 1)
		assert.Equal(t, protocol.ReasonPlayerRemoved, resumed[0].Data.(protocol.RaceResumed).Reason)
	})
}

func TestEmptyRoomStopsTimers(t *testing.T) {
	r, clock, _ := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	require.NoError(t, r.SetReady("s1", true))
	require.NoError(t, r.SetReady("s2", true))
	require.Equal(t, StateCountdown, r.State())

	_, err := r.Leave("s1")
	require.NoError(t, err)
	dep, err := r.Leave("s2")
	require.NoError(t, err)
	assert.True(t, dep.Empty)

	assert.Equal(t, StateWaiting, r.State())
	assert.Empty(t, r.HostID())
	assert.False(t, r.IdleFor(clock.Now(), time.Minute))

	clock.Advance(time.Minute)
	assert.True(t, r.IdleFor(clock.Now(), time.Minute))
	assert.Equal(t, StateWaiting, r.State())

	_, err = r.Leave("s1")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestSummaryAndClose(t *testing.T) {
	opts := testOptions()
	opts.MaxPlayers = 2
	r, _, _ := newTestRoom(t, opts)
	require.NoError(t, r.Host("s1", "Alice"))

	summary, joinable := r.Summary()
	assert.True(t, joinable)
	assert.Equal(t, protocol.RoomSummary{ID: "ABC123", PlayerCount: 1, MaxPlayers: 2, HostName: "Alice"}, summary)

	require.NoError(t, r.Join("s2", "Bob"))
	_, joinable = r.Summary()
	assert.False(t, joinable)

	r.Close()
	assert.ErrorIs(t, r.Start("s1"), ErrRoomClosed)
	_, err := r.Rebind("Alice", "", "s9")
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestSendState(t *testing.T) {
	r, _, rec := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))

	require.NoError(t, r.SendState("s1"))
	assert.ErrorIs(t, r.SendState("nobody"), ErrNotInRoom)

	states := rec.received("s1", protocol.KindRoomState)
	require.Len(t, states, 1)
	snap := states[0].Data.(protocol.RoomSnapshot)
	assert.Equal(t, "ABC123", snap.ID)
	assert.Equal(t, 3, snap.Countdown)
}

func TestColorFor(t *testing.T) {
	seen := make(map[protocol.Colors]bool)
	for i := 0; i < 40; i++ {
		c := ColorFor(i)
		assert.False(t, seen[c], "color %d repeats", i)
		seen[c] = true
	}
}

func TestJoinAfterLeaveGetsFreshColors(t *testing.T) {
	r, _, _ := newTestRoom(t, testOptions())
	require.NoError(t, r.Host("s1", "Alice"))
	require.NoError(t, r.Join("s2", "Bob"))
	require.NoError(t, r.Join("s3", "Carol"))
	_, err := r.Leave("s2")
	require.NoError(t, err)
	require.NoError(t, r.Join("s4", "Dave"))

	dave, _ := r.Player("s4")
	for _, id := range []string{"s1", "s3"} {
		p, ok := r.Player(id)
		require.True(t, ok)
		assert.NotEqual(t, p.Colors, dave.Colors, "Dave shares colors with %s", p.Name)
	}
}
