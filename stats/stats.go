// Package stats accumulates per-message outcomes and round-trip timings for
// one link test session and renders them as an immutable report.
//
// A RunningStats instance lives exactly as long as one session. Both session
// loops report into it concurrently; mutation is serialized by an internal
// mutex so counters and the latency sample set stay consistent.
package stats

import (
	"slices"
	"sync"
	"time"
)

// DefaultBitsPerByte is the per-byte wire overhead for 8N1 serial framing:
// one start bit, eight data bits, one stop bit.
const DefaultBitsPerByte = 10

// Outcome classifies the fate of a single message.
type Outcome int

const (
	// Delivered means the checksum was valid and the session id matched.
	Delivered Outcome = iota
	// Corrupted means the checksum did not match.
	Corrupted
	// Stale means a valid frame carried a session id from another session.
	// Stale frames are tracked but excluded from the current session's
	// delivery counts.
	Stale
	// Lost means an expected echo never arrived within its per-message window.
	Lost
	// TimedOut means a write could not complete within the write deadline
	// after the warmup window elapsed.
	TimedOut
)

// String returns the outcome mnemonic.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Corrupted:
		return "corrupted"
	case Stale:
		return "stale"
	case Lost:
		return "lost"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// RunningStats is the mutable accumulator for one session.
// The zero value is not ready for use; construct via New.
type RunningStats struct {
	mu sync.Mutex

	startedAt time.Time
	endedAt   time.Time

	sent      uint64
	received  uint64
	ok        uint64
	corrupted uint64
	timedOut  uint64
	lost      uint64
	stale     uint64

	bytesSent     uint64
	bytesReceived uint64

	rtt []time.Duration
}

// New creates a RunningStats with the session clock started.
func New() *RunningStats {
	return &RunningStats{startedAt: time.Now()}
}

// RecordSent accounts for one successfully written message of the given
// wire size.
func (s *RunningStats) RecordSent(wireBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent++
	s.bytesSent += uint64(wireBytes) //nolint:gosec // wire sizes are bounded positive
}

// Record folds one received-side or delivery outcome into the counters.
// wireBytes is the wire size of the frame involved, or 0 when no frame
// was read (Lost, TimedOut).
func (s *RunningStats) Record(o Outcome, wireBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o {
	case Delivered:
		s.received++
		s.ok++
		s.bytesReceived += uint64(wireBytes) //nolint:gosec // bounded positive
	case Corrupted:
		s.received++
		s.corrupted++
		s.bytesReceived += uint64(wireBytes) //nolint:gosec // bounded positive
	case Stale:
		s.stale++
	case Lost:
		s.lost++
	case TimedOut:
		s.timedOut++
	}
}

// RecordRTT appends one round-trip latency sample.
func (s *RunningStats) RecordRTT(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rtt = append(s.rtt, d)
}

// Finish stops the session clock. Later Snapshot calls report the elapsed
// time up to Finish rather than up to the snapshot moment.
func (s *RunningStats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endedAt.IsZero() {
		s.endedAt = time.Now()
	}
}

// Snapshot returns an immutable view of the accumulated statistics.
func (s *RunningStats) Snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.endedAt
	if end.IsZero() {
		end = time.Now()
	}

	r := Report{
		Sent:          s.sent,
		Received:      s.received,
		OK:            s.ok,
		Corrupted:     s.corrupted,
		TimedOut:      s.timedOut,
		Lost:          s.lost,
		Stale:         s.stale,
		BytesSent:     s.bytesSent,
		BytesReceived: s.bytesReceived,
		Elapsed:       end.Sub(s.startedAt),
	}
	r.Latency = summarize(s.rtt)

	return r
}

// summarize computes the latency summary by sorted rank selection.
// It returns nil for an empty sample set; percentiles are never fabricated.
func summarize(samples []time.Duration) *LatencySummary {
	if len(samples) == 0 {
		return nil
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return &LatencySummary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   total / time.Duration(len(sorted)),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(p / 100 * float64(len(sorted)-1))

	return sorted[idx]
}
