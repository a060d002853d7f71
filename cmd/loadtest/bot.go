package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wricardo/surfrace/race/protocol"
)

// serverError is an error message received from the server.
type serverError struct {
	resp protocol.Error
}

func (e *serverError) Error() string {
	return fmt.Sprintf("%s: %s", e.resp.Code, e.resp.Message)
}

// bot is one simulated player on its own websocket connection.
type bot struct {
	name    string
	host    bool
	conn    *websocket.Conn
	metrics *Metrics
	logger  zerolog.Logger
	rng     *rand.Rand

	server protocol.ServerConfig
	roomID string

	writeMu sync.Mutex
	inbox   chan protocol.Envelope
}

// dial connects a bot and waits for the serverConfig greeting.
func dial(ctx context.Context, url, name string, seed uint64, m *Metrics, logger zerolog.Logger) (*bot, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		m.ConnectionsFailed.Add(1)
		m.Fail("connection_error")
		return nil, err
	}
	m.ConnectionsSucceeded.Add(1)

	b := &bot{
		name:    name,
		conn:    conn,
		metrics: m,
		logger:  logger.With().Str("bot", name).Logger(),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		inbox:   make(chan protocol.Envelope, 256),
	}
	go b.readLoop()

	env, err := b.await(ctx, protocol.KindServerConfig)
	if err != nil {
		b.close()
		m.Fail("server_config")
		return nil, err
	}
	if err := json.Unmarshal(env.Data, &b.server); err != nil {
		b.close()
		return nil, fmt.Errorf("decode serverConfig: %w", err)
	}
	return b, nil
}

// readLoop counts and queues every frame. When the queue is full the oldest
// frame is dropped; bots only react to a few message kinds.
func (b *bot) readLoop() {
	defer close(b.inbox)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		b.metrics.MessagesReceived.Add(1)

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.metrics.Fail("malformed_frame")
			continue
		}

		select {
		case b.inbox <- env:
		default:
			select {
			case <-b.inbox:
			default:
			}
			b.inbox <- env
		}
	}
}

// send writes one command.
func (b *bot) send(cmd protocol.Command) error {
	data, err := protocol.Encode(protocol.NewMessage(cmd.Kind(), cmd))
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	b.metrics.MessagesSent.Add(1)
	return nil
}

// await returns the next frame of one of the given kinds. An error frame
// ends the wait.
func (b *bot) await(ctx context.Context, kinds ...protocol.Kind) (protocol.Envelope, error) {
	for {
		select {
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		case env, ok := <-b.inbox:
			if !ok {
				return protocol.Envelope{}, errors.New("connection closed")
			}
			if env.Type == protocol.KindError {
				var e serverError
				json.Unmarshal(env.Data, &e.resp)
				return env, &e
			}
			for _, k := range kinds {
				if env.Type == k {
					return env, nil
				}
			}
		}
	}
}

// createRoom makes this bot the host of a new room.
func (b *bot) createRoom(ctx context.Context) error {
	start := time.Now()
	if err := b.send(protocol.CreateRoom{PlayerName: b.name}); err != nil {
		return err
	}
	env, err := b.await(ctx, protocol.KindRoomCreated)
	if err != nil {
		return err
	}
	b.metrics.ObserveLatency(time.Since(start))

	var created protocol.RoomCreated
	if err := json.Unmarshal(env.Data, &created); err != nil {
		return err
	}
	b.roomID = created.RoomID
	b.host = true
	b.metrics.RoomsCreated.Add(1)
	return nil
}

// joinRoom joins an existing room.
func (b *bot) joinRoom(ctx context.Context, roomID string) error {
	start := time.Now()
	if err := b.send(protocol.JoinRoom{RoomID: roomID, PlayerName: b.name}); err != nil {
		return err
	}
	if _, err := b.await(ctx, protocol.KindRoomJoined); err != nil {
		return err
	}
	b.metrics.ObserveLatency(time.Since(start))
	b.roomID = roomID
	return nil
}

// spectating reports whether the server seats this bot as a non-racer.
func (b *bot) spectating() bool {
	return b.host && b.server.Classroom
}

// play readies up and races until ctx ends, readying again after every
// reset. Hosts count race starts and ends, and start races themselves when
// the server does not auto-start.
func (b *bot) play(ctx context.Context, opts options) {
	var (
		updates *time.Ticker
		tick    <-chan time.Time
		finish  <-chan time.Time
	)
	stopRacing := func() {
		if updates != nil {
			updates.Stop()
			updates = nil
		}
		tick, finish = nil, nil
	}
	defer stopRacing()

	b.ready()

	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-b.inbox:
			if !ok {
				return
			}
			switch env.Type {
			case protocol.KindRaceStart:
				if b.host {
					b.metrics.RacesStarted.Add(1)
				}
				if b.spectating() {
					continue
				}
				stopRacing()
				updates = time.NewTicker(opts.updateEvery)
				tick = updates.C
				finish = time.After(opts.finishAfter(b.rng))

			case protocol.KindRaceEnded:
				if b.host {
					b.metrics.RacesEnded.Add(1)
				}
				stopRacing()

			case protocol.KindRaceReset:
				b.ready()

			case protocol.KindPlayersUpdated:
				if b.host && !b.server.AutoStart {
					b.maybeStart(env)
				}

			case protocol.KindError:
				var e protocol.Error
				json.Unmarshal(env.Data, &e)
				b.metrics.Fail("server_" + string(e.Code))
			}

		case <-tick:
			if err := b.send(b.randomUpdate()); err != nil {
				b.logger.Debug().Err(err).Msg("update failed")
				return
			}

		case <-finish:
			stopRacing()
			score := 5000 + b.rng.IntN(2000)
			if err := b.send(protocol.PlayerFinished{Score: score}); err != nil {
				b.logger.Debug().Err(err).Msg("finish failed")
				return
			}
		}
	}
}

func (b *bot) ready() {
	if b.spectating() {
		return
	}
	if err := b.send(protocol.PlayerReady{Ready: true}); err != nil {
		b.logger.Debug().Err(err).Msg("ready failed")
	}
}

// maybeStart sends startRace once every racer is ready.
func (b *bot) maybeStart(env protocol.Envelope) {
	var update protocol.PlayersUpdated
	if err := json.Unmarshal(env.Data, &update); err != nil {
		return
	}
	racers := 0
	for _, p := range update.Players {
		if p.Spectator {
			continue
		}
		if !p.Ready {
			return
		}
		racers++
	}
	if racers >= 2 {
		b.send(protocol.StartRace{})
	}
}

func (b *bot) randomUpdate() protocol.PlayerUpdate {
	pos := protocol.Vec3{
		X: b.rng.Float64()*20 - 10,
		Y: b.rng.Float64() * 5,
		Z: -4000 + b.rng.Float64()*100,
	}
	lane := b.rng.IntN(3)
	score := b.rng.IntN(1000)
	return protocol.PlayerUpdate{Position: &pos, Lane: &lane, Score: &score}
}

func (b *bot) close() {
	b.writeMu.Lock()
	b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()
	b.conn.Close()
}
