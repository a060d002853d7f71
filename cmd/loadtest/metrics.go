package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics aggregates counters from every bot. Safe for concurrent use.
type Metrics struct {
	ConnectionsSucceeded atomic.Int64
	ConnectionsFailed    atomic.Int64
	RoomsCreated         atomic.Int64
	JoinsSucceeded       atomic.Int64
	JoinsFailed          atomic.Int64
	RacesStarted         atomic.Int64
	RacesEnded           atomic.Int64
	MessagesReceived     atomic.Int64
	MessagesSent         atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	errors    map[string]int
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{errors: make(map[string]int)}
}

// ObserveLatency records a request/response round trip.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

// Fail counts an error of the given kind.
func (m *Metrics) Fail(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

// Summary is a point-in-time view of Metrics.
type Summary struct {
	Elapsed              time.Duration
	ConnectionsSucceeded int64
	ConnectionsFailed    int64
	RoomsCreated         int64
	JoinsSucceeded       int64
	JoinsFailed          int64
	RacesStarted         int64
	RacesEnded           int64
	MessagesReceived     int64
	MessagesSent         int64
	MessagesPerSecond    float64
	SuccessRate          float64
	LatencyMin           time.Duration
	LatencyAvg           time.Duration
	LatencyP50           time.Duration
	LatencyP95           time.Duration
	LatencyMax           time.Duration
	Errors               map[string]int
}

// Summarize computes rates and latency percentiles over elapsed.
func (m *Metrics) Summarize(elapsed time.Duration) Summary {
	s := Summary{
		Elapsed:              elapsed,
		ConnectionsSucceeded: m.ConnectionsSucceeded.Load(),
		ConnectionsFailed:    m.ConnectionsFailed.Load(),
		RoomsCreated:         m.RoomsCreated.Load(),
		JoinsSucceeded:       m.JoinsSucceeded.Load(),
		JoinsFailed:          m.JoinsFailed.Load(),
		RacesStarted:         m.RacesStarted.Load(),
		RacesEnded:           m.RacesEnded.Load(),
		MessagesReceived:     m.MessagesReceived.Load(),
		MessagesSent:         m.MessagesSent.Load(),
		Errors:               make(map[string]int),
	}

	if secs := elapsed.Seconds(); secs > 0 {
		s.MessagesPerSecond = float64(s.MessagesReceived+s.MessagesSent) / secs
	}
	if total := s.ConnectionsSucceeded + s.ConnectionsFailed; total > 0 {
		s.SuccessRate = 100 * float64(s.ConnectionsSucceeded) / float64(total)
	}

	m.mu.Lock()
	lat := append([]time.Duration(nil), m.latencies...)
	for k, v := range m.errors {
		s.Errors[k] = v
	}
	m.mu.Unlock()

	if len(lat) > 0 {
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		var sum time.Duration
		for _, d := range lat {
			sum += d
		}
		s.LatencyMin = lat[0]
		s.LatencyMax = lat[len(lat)-1]
		s.LatencyAvg = sum / time.Duration(len(lat))
		s.LatencyP50 = percentile(lat, 50)
		s.LatencyP95 = percentile(lat, 95)
	}
	return s
}

// percentile uses nearest rank on a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Write prints the report.
func (s Summary) Write(w io.Writer) {
	line := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\nLOAD TEST RESULTS\n%s\n", line, line)
	fmt.Fprintf(w, "Duration: %.1fs\n\n", s.Elapsed.Seconds())

	fmt.Fprintln(w, "CONNECTIONS")
	fmt.Fprintf(w, "  Successful:   %d\n", s.ConnectionsSucceeded)
	fmt.Fprintf(w, "  Failed:       %d\n", s.ConnectionsFailed)
	fmt.Fprintf(w, "  Success rate: %.0f%%\n\n", s.SuccessRate)

	fmt.Fprintln(w, "ROOMS")
	fmt.Fprintf(w, "  Created:       %d\n", s.RoomsCreated)
	fmt.Fprintf(w, "  Races started: %d\n", s.RacesStarted)
	fmt.Fprintf(w, "  Races ended:   %d\n", s.RacesEnded)
	fmt.Fprintf(w, "  Join success:  %d/%d\n\n", s.JoinsSucceeded, s.JoinsSucceeded+s.JoinsFailed)

	fmt.Fprintln(w, "PERFORMANCE")
	fmt.Fprintf(w, "  Messages received: %d\n", s.MessagesReceived)
	fmt.Fprintf(w, "  Messages sent:     %d\n", s.MessagesSent)
	fmt.Fprintf(w, "  Messages/sec:      %.0f\n", s.MessagesPerSecond)
	fmt.Fprintf(w, "  Latency min/avg/max: %s / %s / %s\n", ms(s.LatencyMin), ms(s.LatencyAvg), ms(s.LatencyMax))
	fmt.Fprintf(w, "  Latency p50/p95:     %s / %s\n\n", ms(s.LatencyP50), ms(s.LatencyP95))

	total := 0
	kinds := make([]string, 0, len(s.Errors))
	for k, v := range s.Errors {
		total += v
		kinds = append(kinds, k)
	}
	fmt.Fprintf(w, "ERRORS: %d\n", total)
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s: %d\n", k, s.Errors[k])
	}
	fmt.Fprintln(w, line)
}

func ms(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
