// Command loadtest stress tests a race server with simulated players.
//
// It runs in phases: every room gets a host bot that creates it, player bots
// join each room, then all bots ready up and race. Bots send position updates
// while racing, finish after a random delay, and ready up again after each
// reset until the test duration is over. A summary of connections, races,
// message throughput and request latency is printed at the end.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

// options control one load test run.
type options struct {
	serverURL   string
	rooms       int
	players     int
	duration    time.Duration
	updateEvery time.Duration
	finishMin   time.Duration
	finishMax   time.Duration
	connectWait time.Duration
	seed        uint64
}

// finishAfter picks a random race length in [finishMin, finishMax].
func (o options) finishAfter(rng *rand.Rand) time.Duration {
	if o.finishMax <= o.finishMin {
		return o.finishMin
	}
	return o.finishMin + time.Duration(rng.Int64N(int64(o.finishMax-o.finishMin)))
}

// roomBots is one room and the bots seated in it, host first.
type roomBots struct {
	id   string
	bots []*bot
}

// run executes the phases and returns once every bot has been closed.
func run(ctx context.Context, opts options, m *Metrics, logger zerolog.Logger) error {
	var (
		mu    sync.Mutex
		rooms []*roomBots
		wg    sync.WaitGroup
	)

	logger.Info().Int("rooms", opts.rooms).Msg("phase 1: creating rooms")
	for i := 0; i < opts.rooms; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, opts.connectWait)
			defer cancel()

			host, err := dial(cctx, opts.serverURL, fmt.Sprintf("Host_%d", i), opts.seed+uint64(i)*1000, m, logger)
			if err != nil {
				logger.Warn().Err(err).Int("room", i).Msg("host connection failed")
				return
			}
			if err := host.createRoom(cctx); err != nil {
				m.Fail("room_creation")
				logger.Warn().Err(err).Int("room", i).Msg("room creation failed")
				host.close()
				return
			}
			mu.Lock()
			rooms = append(rooms, &roomBots{id: host.roomID, bots: []*bot{host}})
			mu.Unlock()
		}(i)
		sleep(ctx, 100*time.Millisecond)
	}
	wg.Wait()

	if len(rooms) == 0 {
		return fmt.Errorf("no rooms could be created on %s", opts.serverURL)
	}
	logger.Info().Int("created", len(rooms)).Msg("rooms created")

	logger.Info().Int("per_room", opts.players).Msg("phase 2: adding players")
	for ri, r := range rooms {
		for p := 1; p < opts.players; p++ {
			wg.Add(1)
			go func(r *roomBots, p int) {
				defer wg.Done()
				cctx, cancel := context.WithTimeout(ctx, opts.connectWait)
				defer cancel()

				b, err := dial(cctx, opts.serverURL, fmt.Sprintf("Player_%d_%d", ri, p), opts.seed+uint64(ri)*1000+uint64(p), m, logger)
				if err != nil {
					return
				}
				if err := b.joinRoom(cctx, r.id); err != nil {
					m.JoinsFailed.Add(1)
					m.Fail("join_failed")
					b.close()
					return
				}
				m.JoinsSucceeded.Add(1)
				mu.Lock()
				r.bots = append(r.bots, b)
				mu.Unlock()
			}(r, p)
			sleep(ctx, 50*time.Millisecond)
		}
	}
	wg.Wait()

	logger.Info().Dur("duration", opts.duration).Msg("phase 3: racing")
	raceCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	for _, r := range rooms {
		for _, b := range r.bots {
			wg.Add(1)
			go func(b *bot) {
				defer wg.Done()
				b.play(raceCtx, opts)
			}(b)
		}
	}

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()
	started := time.Now()
wait:
	for {
		select {
		case <-raceCtx.Done():
			break wait
		case <-progress.C:
			logger.Info().
				Dur("elapsed", time.Since(started).Round(time.Second)).
				Int64("received", m.MessagesReceived.Load()).
				Int64("sent", m.MessagesSent.Load()).
				Int64("races_started", m.RacesStarted.Load()).
				Msg("progress")
		}
	}

	logger.Info().Msg("cleaning up")
	for _, r := range rooms {
		for _, b := range r.bots {
			b.close()
		}
	}
	wg.Wait()
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "loadtest",
		Usage: "stress test a race server with simulated players",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "ws://localhost:8080/ws",
				Usage:   "websocket URL of the race server",
				Sources: cli.EnvVars("SERVER_URL"),
			},
			&cli.IntFlag{
				Name:    "rooms",
				Value:   5,
				Usage:   "number of rooms to create",
				Sources: cli.EnvVars("NUM_ROOMS"),
			},
			&cli.IntFlag{
				Name:    "players",
				Value:   50,
				Usage:   "players per room, host included",
				Sources: cli.EnvVars("PLAYERS_PER_ROOM"),
			},
			&cli.DurationFlag{
				Name:    "duration",
				Value:   time.Minute,
				Usage:   "how long bots keep racing",
				Sources: cli.EnvVars("TEST_DURATION"),
			},
			&cli.DurationFlag{
				Name:  "update-interval",
				Value: 500 * time.Millisecond,
				Usage: "delay between position updates of one bot",
			},
			&cli.DurationFlag{
				Name:  "finish-min",
				Value: 10 * time.Second,
				Usage: "shortest race a bot runs before finishing",
			},
			&cli.DurationFlag{
				Name:  "finish-max",
				Value: 30 * time.Second,
				Usage: "longest race a bot runs before finishing",
			},
			&cli.DurationFlag{
				Name:  "connect-timeout",
				Value: 10 * time.Second,
				Usage: "timeout for connecting and entering a room",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "random seed (0 picks one)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log every bot error",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			level := zerolog.InfoLevel
			if cmd.Bool("debug") {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()

			opts := options{
				serverURL:   cmd.String("server"),
				rooms:       cmd.Int("rooms"),
				players:     cmd.Int("players"),
				duration:    cmd.Duration("duration"),
				updateEvery: cmd.Duration("update-interval"),
				finishMin:   cmd.Duration("finish-min"),
				finishMax:   cmd.Duration("finish-max"),
				connectWait: cmd.Duration("connect-timeout"),
				seed:        cmd.Uint64("seed"),
			}
			if opts.seed == 0 {
				opts.seed = rand.Uint64()
			}
			if opts.rooms < 1 || opts.players < 1 {
				return cli.Exit("rooms and players must be at least 1", 2)
			}
			if opts.updateEvery <= 0 {
				return cli.Exit("update-interval must be positive", 2)
			}

			logger.Info().
				Str("server", opts.serverURL).
				Int("rooms", opts.rooms).
				Int("players_per_room", opts.players).
				Int("total_players", opts.rooms*opts.players).
				Dur("duration", opts.duration).
				Uint64("seed", opts.seed).
				Msg("load test starting")

			m := NewMetrics()
			started := time.Now()
			err := run(ctx, opts, m, logger)
			m.Summarize(time.Since(started)).Write(os.Stdout)
			return err
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "load test failed:", err)
		os.Exit(1)
	}
}
