package stats

import (
	"fmt"
	"strings"
	"time"
)

// LatencySummary holds round-trip latency statistics computed from the
// session's sample set.
type LatencySummary struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Report is an immutable snapshot of a session's statistics.
type Report struct {
	Sent      uint64
	Received  uint64
	OK        uint64
	Corrupted uint64
	TimedOut  uint64
	Lost      uint64
	Stale     uint64

	BytesSent     uint64
	BytesReceived uint64

	Elapsed time.Duration

	// Latency is nil when no round-trip samples were collected
	// (e.g. stream mode, or a session that never delivered an echo).
	Latency *LatencySummary
}

// SuccessRate returns the fraction of received messages that passed
// checksum verification, in [0, 1]. It returns 0 when nothing was received.
func (r Report) SuccessRate() float64 {
	if r.Received == 0 {
		return 0
	}

	return float64(r.OK) / float64(r.Received)
}

// Throughput returns the link throughput in bits per second, accounting for
// the fixed per-byte framing overhead of the serial line (start/stop bits).
// It returns 0 for a zero-length session.
func (r Report) Throughput(bitsPerByte int) float64 {
	if r.Elapsed <= 0 {
		return 0
	}

	totalBytes := float64(r.BytesSent + r.BytesReceived)

	return totalBytes / r.Elapsed.Seconds() * float64(bitsPerByte)
}

// String renders a human-readable multi-line report.
func (r Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "sent=%d received=%d ok=%d corrupted=%d timed_out=%d lost=%d stale=%d (%.1f%% ok)\n",
		r.Sent, r.Received, r.OK, r.Corrupted, r.TimedOut, r.Lost, r.Stale, r.SuccessRate()*100)

	if r.BytesSent+r.BytesReceived > 0 && r.Elapsed > 0 {
		bps := r.Throughput(DefaultBitsPerByte)
		fmt.Fprintf(&b, "throughput: %.0f bit/s (%.2f kbit/s) over %.1fs\n",
			bps, bps/1000, r.Elapsed.Seconds())
	}

	if r.Latency != nil {
		l := r.Latency
		fmt.Fprintf(&b, "latency: avg=%.2fms min=%.2fms max=%.2fms\n",
			ms(l.Avg), ms(l.Min), ms(l.Max))
		fmt.Fprintf(&b, "         p50=%.2fms p95=%.2fms p99=%.2fms (n=%d)\n",
			ms(l.P50), ms(l.P95), ms(l.P99), l.Count)
	}

	return b.String()
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
