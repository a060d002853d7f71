// Command validate checks race server configuration JSON files. It checks:
//   - JSON structure, rejecting unknown keys so typos do not silently fall back to defaults
//   - Value ranges (player cap, countdown, grace, reset delay, sweep timings)
//   - Mode consistency (classroom mode needs auto_start disabled)
//
// With no arguments it scans the directory given by --dir (default ../configs).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/surfrace/race/config"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

// validateConfig loads and validates a single configuration file. Values
// missing from the file are checked with their defaults applied, the same
// way the server loads them.
func validateConfig(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	cfg := config.Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid JSON: %v", err))
		return result
	}

	for _, problem := range cfg.Problems() {
		result.Valid = false
		result.Errors = append(result.Errors, problem)
	}
	if !result.Valid {
		return result
	}

	result.Errors = append(result.Errors, describe(cfg)...)
	return result
}

// describe summarizes a valid configuration as informational lines.
func describe(cfg config.Config) []string {
	mode := "auto start when all players are ready"
	if !cfg.AutoStart {
		mode = "host starts the race"
	}
	if cfg.Classroom {
		mode += ", classroom (host spectates)"
	}

	empty := "deleted immediately"
	if !cfg.DeleteEmptyRooms {
		empty = fmt.Sprintf("swept after %s", cfg.RoomIdleTTL.Std())
	}

	identity := "name, token checked when presented"
	if cfg.RequireReconnectToken {
		identity = "name and token"
	}

	return []string{
		fmt.Sprintf("✓ Players per room: %d", cfg.MaxPlayers),
		fmt.Sprintf("✓ Start mode: %s", mode),
		fmt.Sprintf("✓ Countdown: %ds, reset after %s", cfg.CountdownSeconds, cfg.ResetDelay.Std()),
		fmt.Sprintf("✓ Reconnect grace: %s (%s)", cfg.ReconnectGrace.Std(), identity),
		fmt.Sprintf("✓ Empty rooms: %s", empty),
	}
}

// collect expands the arguments into config files. Without arguments every
// *.json file in dir is used.
func collect(dir string, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	return filepath.Glob(filepath.Join(dir, "*.json"))
}

// report prints one result and returns whether it was valid.
func report(result ValidationResult) bool {
	fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

	if result.Valid {
		fmt.Println("✅ VALID")
		for _, info := range result.Errors {
			fmt.Println("  " + info)
		}
		return true
	}

	fmt.Println("❌ INVALID")
	for _, err := range result.Errors {
		fmt.Println("  ❌ " + err)
	}
	return false
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "validate race server configuration files",
		ArgsUsage: "[file.json ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Value:   "../configs",
				Usage:   "directory scanned when no files are given",
				Sources: cli.EnvVars("CONFIG_DIR"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			files, err := collect(cmd.String("dir"), cmd.Args().Slice())
			if err != nil {
				return cli.Exit(fmt.Sprintf("Error finding config files: %v", err), 1)
			}
			if len(files) == 0 {
				return cli.Exit("No configuration files found", 1)
			}

			allValid := true
			for _, file := range files {
				if !report(validateConfig(file)) {
					allValid = false
				}
			}

			fmt.Printf("\n%s\n", strings.Repeat("=", 40))
			if !allValid {
				return cli.Exit("❌ Some configurations have errors", 1)
			}
			fmt.Println("✅ All configurations are valid!")
			return nil
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
