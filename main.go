// Command surfrace starts the Surf Racer multiplayer race server.
//
// It supports two commands:
//  1. "serve" (default) – runs the HTTP server exposing the websocket race protocol,
//     the REST inspection API and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server, reusing a running server when one is
//     reachable and otherwise starting an internal one on a loopback port
//
// Flags (or the matching environment variables, optionally from a .env file)
// control the race rules, the listen address, logging, the optional Redis room
// directory and optional ngrok tunneling.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/surfrace/race/config"
	"github.com/wricardo/surfrace/race/service"
)

// Version information
const (
	Version = service.Version
	AppName = "Surf Racer Server"
)

// Flag names shared between the flag definitions and the config overlay.
const (
	flagConfig                = "config"
	flagMaxPlayers            = "max-players"
	flagReconnectGrace        = "reconnect-grace"
	flagCountdownSeconds      = "countdown-seconds"
	flagResetDelay            = "reset-delay"
	flagRoomIdleTTL           = "room-idle-ttl"
	flagSweepInterval         = "sweep-interval"
	flagAutoStart             = "auto-start"
	flagClassroom             = "classroom"
	flagDeleteEmptyRooms      = "delete-empty-rooms"
	flagRequireReconnectToken = "require-reconnect-token"
	flagRedisAddr             = "redis-addr"
	flagLogLevel              = "log-level"
	flagLogFormat             = "log-format"
)

// raceFlags configure the race rules and are shared by both commands.
func raceFlags() []cli.Flag {
	def := config.Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Usage:   "JSON file with race rules; flags override its values",
			Sources: cli.EnvVars("CONFIG_FILE"),
		},
		&cli.IntFlag{
			Name:    flagMaxPlayers,
			Value:   def.MaxPlayers,
			Usage:   "maximum players per room",
			Sources: cli.EnvVars("MAX_PLAYERS"),
		},
		&cli.DurationFlag{
			Name:    flagReconnectGrace,
			Value:   def.ReconnectGrace.Std(),
			Usage:   "how long a dropped player keeps its seat",
			Sources: cli.EnvVars("RECONNECT_GRACE"),
		},
		&cli.IntFlag{
			Name:    flagCountdownSeconds,
			Value:   def.CountdownSeconds,
			Usage:   "countdown length before a race starts",
			Sources: cli.EnvVars("COUNTDOWN_SECONDS"),
		},
		&cli.DurationFlag{
			Name:    flagResetDelay,
			Value:   def.ResetDelay.Std(),
			Usage:   "delay between race end and the room returning to waiting",
			Sources: cli.EnvVars("RESET_DELAY"),
		},
		&cli.DurationFlag{
			Name:    flagRoomIdleTTL,
			Value:   def.RoomIdleTTL.Std(),
			Usage:   "how long an empty room survives when empty rooms are kept",
			Sources: cli.EnvVars("ROOM_IDLE_TTL"),
		},
		&cli.DurationFlag{
			Name:    flagSweepInterval,
			Value:   def.SweepInterval.Std(),
			Usage:   "idle room sweep and directory refresh interval",
			Sources: cli.EnvVars("SWEEP_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    flagAutoStart,
			Value:   def.AutoStart,
			Usage:   "start the countdown once every player is ready",
			Sources: cli.EnvVars("AUTO_START"),
		},
		&cli.BoolFlag{
			Name:    flagClassroom,
			Usage:   "the room creator hosts as a spectator (requires --auto-start=false)",
			Sources: cli.EnvVars("CLASSROOM"),
		},
		&cli.BoolFlag{
			Name:    flagDeleteEmptyRooms,
			Value:   def.DeleteEmptyRooms,
			Usage:   "delete a room as soon as its last player is gone",
			Sources: cli.EnvVars("DELETE_EMPTY_ROOMS"),
		},
		&cli.BoolFlag{
			Name:    flagRequireReconnectToken,
			Usage:   "reject rejoins that do not present the reconnect token",
			Sources: cli.EnvVars("REQUIRE_RECONNECT_TOKEN"),
		},
		&cli.StringFlag{
			Name:    flagRedisAddr,
			Usage:   "Redis address for the shared room directory (empty keeps it in memory)",
			Sources: cli.EnvVars("REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    flagLogLevel,
			Value:   "info",
			Usage:   "log level (debug, info, warn, error)",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    flagLogFormat,
			Value:   "text",
			Usage:   "log format (text or json)",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// newApp builds the command tree.
func newApp() *cli.Command {
	serve := &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP server with websocket, REST API and MCP endpoint",
		Flags: append(raceFlags(),
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "HTTP server port",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "host",
				Value:   "localhost",
				Usage:   "HTTP server host",
				Sources: cli.EnvVars("HOST"),
			},
			&cli.BoolFlag{
				Name:    "ngrok",
				Usage:   "expose the server through an ngrok tunnel",
				Sources: cli.EnvVars("NGROK_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "ngrok-auth",
				Usage:   "ngrok auth token",
				Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "ngrok-domain",
				Usage:   "custom ngrok domain (optional)",
				Sources: cli.EnvVars("NGROK_DOMAIN"),
			},
		),
		Action: runServe,
	}

	stdio := &cli.Command{
		Name:    "mcp",
		Aliases: []string{"stdio-mcp", "mcp-stdio"},
		Usage:   "run an MCP stdio server against a running or internal race server",
		Flags: append(raceFlags(),
			&cli.StringFlag{
				Name:    "api-url",
				Value:   "http://localhost:8080",
				Usage:   "race server to inspect; an internal one is started if it is unreachable",
				Sources: cli.EnvVars("API_URL"),
			},
		),
		Action: runStdioMCP,
	}

	return &cli.Command{
		Name:     "surfrace",
		Usage:    AppName,
		Version:  Version,
		Commands: []*cli.Command{serve, stdio},
		// Plain "surfrace" behaves like "surfrace serve".
		DefaultCommand: "serve",
	}
}

// loadConfig resolves the race rules: defaults, then the --config file, then
// every flag or environment variable that was explicitly set.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg := config.Default()
	if path := cmd.String(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if cmd.IsSet(flagMaxPlayers) {
		cfg.MaxPlayers = cmd.Int(flagMaxPlayers)
	}
	if cmd.IsSet(flagReconnectGrace) {
		cfg.ReconnectGrace = config.Duration(cmd.Duration(flagReconnectGrace))
	}
	if cmd.IsSet(flagCountdownSeconds) {
		cfg.CountdownSeconds = cmd.Int(flagCountdownSeconds)
	}
	if cmd.IsSet(flagResetDelay) {
		cfg.ResetDelay = config.Duration(cmd.Duration(flagResetDelay))
	}
	if cmd.IsSet(flagRoomIdleTTL) {
		cfg.RoomIdleTTL = config.Duration(cmd.Duration(flagRoomIdleTTL))
	}
	if cmd.IsSet(flagSweepInterval) {
		cfg.SweepInterval = config.Duration(cmd.Duration(flagSweepInterval))
	}
	if cmd.IsSet(flagAutoStart) {
		cfg.AutoStart = cmd.Bool(flagAutoStart)
	}
	if cmd.IsSet(flagClassroom) {
		cfg.Classroom = cmd.Bool(flagClassroom)
	}
	if cmd.IsSet(flagDeleteEmptyRooms) {
		cfg.DeleteEmptyRooms = cmd.Bool(flagDeleteEmptyRooms)
	}
	if cmd.IsSet(flagRequireReconnectToken) {
		cfg.RequireReconnectToken = cmd.Bool(flagRequireReconnectToken)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setupLogger builds the process logger. Logs always go to stderr so the
// stdio MCP transport keeps stdout to itself.
func setupLogger(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var logger zerolog.Logger
	switch format {
	case "json":
		logger = zerolog.New(os.Stderr)
	case "text", "":
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (want text or json)", format)
	}

	return logger.Level(lvl).With().Timestamp().Str("app", "surfrace").Logger(), nil
}

// main loads .env, then runs the command tree.
func main() {
	// Load .env file if it exists so environment sources see it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
	}

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}
