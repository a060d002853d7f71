// Package room implements the per-room race state machine.
//
// A Room owns its roster, ready-check, race clock and broadcasts:
//
//	waiting → countdown → racing → finished → waiting
//	                        ↕
//	                      paused
//
// Every exported method takes the room lock, so commands arriving from
// different connections and the room's own timers (countdown ticks, post-race
// reset) are applied one at a time. Rooms never share a lock, so work on
// different rooms proceeds in parallel.
//
// Outbound messages are handed to a Notifier while the lock is held, which
// keeps the per-room order of broadcasts identical to the order of state
// changes. Notifier implementations must not block.
//
// Timers come from a clockwork.Clock so tests can drive countdowns and resets
// with a fake clock.
package room
