package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wricardo/surfrace/api"
	"github.com/wricardo/surfrace/race/config"
	"github.com/wricardo/surfrace/race/directory"
	"github.com/wricardo/surfrace/race/reconnect"
	"github.com/wricardo/surfrace/race/registry"
	"github.com/wricardo/surfrace/race/service"
	"github.com/wricardo/surfrace/transport/websocket"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		p    int
		want time.Duration
	}{
		{50, 5},
		{95, 10},
		{10, 1},
		{100, 10},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%d) = %d, want %d", tt.p, got, tt.want)
		}
	}

	if got := percentile(nil, 50); got != 0 {
		t.Errorf("Expected 0 for empty input, got %d", got)
	}
}

func TestSummarize(t *testing.T) {
	m := NewMetrics()
	m.ConnectionsSucceeded.Add(3)
	m.ConnectionsFailed.Add(1)
	m.MessagesReceived.Add(30)
	m.MessagesSent.Add(10)
	m.ObserveLatency(30 * time.Millisecond)
	m.ObserveLatency(10 * time.Millisecond)
	m.ObserveLatency(20 * time.Millisecond)
	m.Fail("join_failed")
	m.Fail("join_failed")
	m.Fail("server_RoomFull")

	s := m.Summarize(2 * time.Second)

	if s.SuccessRate != 75 {
		t.Errorf("Expected 75%% success rate, got %v", s.SuccessRate)
	}
	if s.MessagesPerSecond != 20 {
		t.Errorf("Expected 20 messages/sec, got %v", s.MessagesPerSecond)
	}
	if s.LatencyMin != 10*time.Millisecond || s.LatencyMax != 30*time.Millisecond {
		t.Errorf("Unexpected latency bounds %s..%s", s.LatencyMin, s.LatencyMax)
	}
	if s.LatencyAvg != 20*time.Millisecond || s.LatencyP50 != 20*time.Millisecond {
		t.Errorf("Unexpected avg/p50 %s/%s", s.LatencyAvg, s.LatencyP50)
	}
	if s.Errors["join_failed"] != 2 || s.Errors["server_RoomFull"] != 1 {
		t.Errorf("Unexpected errors %v", s.Errors)
	}

	var buf bytes.Buffer
	s.Write(&buf)
	out := buf.String()
	for _, want := range []string{"Success rate: 75%", "Messages/sec:      20", "ERRORS: 3", "join_failed: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in report:\n%s", want, out)
		}
	}
}

func TestFinishAfter(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	opts := options{finishMin: time.Second, finishMax: 3 * time.Second}
	for i := 0; i < 100; i++ {
		d := opts.finishAfter(rng)
		if d < time.Second || d >= 3*time.Second {
			t.Fatalf("finishAfter out of range: %s", d)
		}
	}

	fixed := options{finishMin: 2 * time.Second, finishMax: time.Second}
	if d := fixed.finishAfter(rng); d != 2*time.Second {
		t.Errorf("Expected finishMin when range is empty, got %s", d)
	}
}

func newRaceServer(t *testing.T, cfg config.Config) string {
	t.Helper()
	clock := clockwork.NewRealClock()
	logger := zerolog.Nop()

	hub := websocket.NewHub(logger)
	go hub.Run()

	rooms := registry.New(cfg, clock, hub, directory.NewMemory(), logger)
	rc := reconnect.New(clock, cfg.ReconnectGrace.Std(), logger)
	svc := service.New(cfg, rooms, rc, hub, clock, logger)

	server := httptest.NewServer(api.NewServer(svc, hub, api.Info{Name: "Load Target", Version: "0.0.1"}, logger))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
		rc.Stop()
		rooms.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func quickOptions(url string) options {
	return options{
		serverURL:   url,
		rooms:       2,
		players:     3,
		duration:    2 * time.Second,
		updateEvery: 50 * time.Millisecond,
		finishMin:   100 * time.Millisecond,
		finishMax:   300 * time.Millisecond,
		connectWait: 5 * time.Second,
		seed:        42,
	}
}

func TestRunAgainstServer(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	cfg := config.Default()
	cfg.CountdownSeconds = 0
	cfg.ResetDelay = config.Duration(200 * time.Millisecond)
	url := newRaceServer(t, cfg)

	m := NewMetrics()
	if err := run(context.Background(), quickOptions(url), m, zerolog.Nop()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := m.RoomsCreated.Load(); got != 2 {
		t.Errorf("Expected 2 rooms, got %d", got)
	}
	if got := m.JoinsSucceeded.Load(); got != 4 {
		t.Errorf("Expected 4 joins, got %d", got)
	}
	if got := m.ConnectionsSucceeded.Load(); got != 6 {
		t.Errorf("Expected 6 connections, got %d", got)
	}
	if got := m.RacesStarted.Load(); got < 2 {
		t.Errorf("Expected every room to start a race, got %d", got)
	}
	if got := m.RacesEnded.Load(); got < 2 {
		t.Errorf("Expected every room to finish a race, got %d", got)
	}
	if m.MessagesSent.Load() == 0 || m.MessagesReceived.Load() == 0 {
		t.Error("Expected traffic in both directions")
	}
}

func TestRunHostStartedRaces(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	cfg := config.Default()
	cfg.AutoStart = false
	cfg.CountdownSeconds = 0
	cfg.ResetDelay = config.Duration(200 * time.Millisecond)
	url := newRaceServer(t, cfg)

	opts := quickOptions(url)
	opts.rooms = 1

	m := NewMetrics()
	if err := run(context.Background(), opts, m, zerolog.Nop()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := m.RacesStarted.Load(); got < 1 {
		t.Errorf("Expected the host bot to start a race, got %d", got)
	}
}

func TestRunNoServer(t *testing.T) {
	opts := quickOptions("ws://127.0.0.1:1/ws")
	opts.rooms = 1
	opts.connectWait = time.Second

	m := NewMetrics()
	if err := run(context.Background(), opts, m, zerolog.Nop()); err == nil {
		t.Fatal("Expected an error when no room can be created")
	}
	if m.ConnectionsFailed.Load() != 1 {
		t.Errorf("Expected 1 failed connection, got %d", m.ConnectionsFailed.Load())
	}
}
