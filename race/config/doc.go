// Package config holds the race server configuration.
//
// Values are resolved in three layers: the built-in defaults from Default,
// an optional JSON file read with Load, then command line flags and
// environment variables applied by the server command.
//
// Durations accept Go duration strings or plain milliseconds:
//
//	{
//	  "max_players": 8,
//	  "reconnect_grace": "15s",
//	  "reset_delay": 5000,
//	  "auto_start": false,
//	  "classroom": true
//	}
//
// Validate rejects values the room state machine cannot run with, such as a
// room smaller than two players or classroom mode combined with auto-start.
package config
