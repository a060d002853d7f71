package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wricardo/surfrace/race/room"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Duration is a time.Duration that reads either a Go duration string ("10s")
// or a number of milliseconds from JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the server-wide race rules.
type Config struct {
	MaxPlayers       int      `json:"max_players"`
	ReconnectGrace   Duration `json:"reconnect_grace"`
	CountdownSeconds int      `json:"countdown_seconds"`
	ResetDelay       Duration `json:"reset_delay"`
	RoomIdleTTL      Duration `json:"room_idle_ttl"`
	SweepInterval    Duration `json:"sweep_interval"`

	AutoStart             bool `json:"auto_start"`
	Classroom             bool `json:"classroom"`
	DeleteEmptyRooms      bool `json:"delete_empty_rooms"`
	RequireReconnectToken bool `json:"require_reconnect_token"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		MaxPlayers:       50,
		ReconnectGrace:   Duration(10 * time.Second),
		CountdownSeconds: 3,
		ResetDelay:       Duration(10 * time.Second),
		RoomIdleTTL:      Duration(5 * time.Minute),
		SweepInterval:    Duration(60 * time.Second),
		AutoStart:        true,
		DeleteEmptyRooms: true,
	}
}

// Load reads a JSON file on top of the defaults. Fields missing from the file
// keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Problems lists every constraint the configuration violates.
func (c Config) Problems() []string {
	var problems []string
	if c.MaxPlayers < 2 {
		problems = append(problems, fmt.Sprintf("max_players must be at least 2, got %d", c.MaxPlayers))
	}
	if c.CountdownSeconds < 0 {
		problems = append(problems, fmt.Sprintf("countdown_seconds must not be negative, got %d", c.CountdownSeconds))
	}
	if c.ReconnectGrace.Std() <= 0 {
		problems = append(problems, "reconnect_grace must be positive")
	}
	if c.ResetDelay.Std() < 0 {
		problems = append(problems, "reset_delay must not be negative")
	}
	if c.RoomIdleTTL.Std() <= 0 {
		problems = append(problems, "room_idle_ttl must be positive")
	}
	if c.SweepInterval.Std() <= 0 {
		problems = append(problems, "sweep_interval must be positive")
	}
	if c.Classroom && c.AutoStart {
		problems = append(problems, "classroom mode requires auto_start to be false")
	}
	return problems
}

// Validate reports the first violated constraint wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	problems := c.Problems()
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// RoomOptions derives the per-room rules.
func (c Config) RoomOptions() room.Options {
	return room.Options{
		MaxPlayers:            c.MaxPlayers,
		CountdownSeconds:      c.CountdownSeconds,
		ResetDelay:            c.ResetDelay.Std(),
		AutoStart:             c.AutoStart,
		Classroom:             c.Classroom,
		RequireReconnectToken: c.RequireReconnectToken,
	}
}
