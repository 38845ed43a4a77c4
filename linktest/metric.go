package linktest

import (
	"sync/atomic"
)

// SessionMetrics contains atomic counters for low-level session events that
// don't belong in the per-message outcome statistics. They can back a
// prometheus CounterFunc or be dumped at debug level after a run.
type SessionMetrics struct {
	// WarmupRetryCount is the number of write timeouts tolerated and
	// retried inside the warmup window.
	WarmupRetryCount atomic.Uint64
	// DecodeErrorCount is the number of malformed frames discarded below
	// the checksum stage.
	DecodeErrorCount atomic.Uint64
	// ResyncBytes is the total number of bytes drained while
	// resynchronizing after malformed frames.
	ResyncBytes atomic.Uint64
	// LineAssertedTimeouts counts post-warmup write timeouts observed with
	// the handshake line asserted (points at a transport/driver fault).
	LineAssertedTimeouts atomic.Uint64
	// LineDeassertedTimeouts counts post-warmup write timeouts observed
	// with the handshake line deasserted (peer not ready).
	LineDeassertedTimeouts atomic.Uint64
	// EchoDropCount is the number of echoes dropped because the responder's
	// outbound queue was full.
	EchoDropCount atomic.Uint64
}

func (m *SessionMetrics) incWarmupRetryCount() {
	m.WarmupRetryCount.Add(1)
}

func (m *SessionMetrics) incDecodeErrorCount() {
	m.DecodeErrorCount.Add(1)
}

func (m *SessionMetrics) addResyncBytes(n int) {
	m.ResyncBytes.Add(uint64(n)) //nolint:gosec // drain counts are non-negative
}

func (m *SessionMetrics) recordTimeoutLineState(state LineState) {
	switch state {
	case LineAsserted:
		m.LineAssertedTimeouts.Add(1)
	case LineDeasserted:
		m.LineDeassertedTimeouts.Add(1)
	case LineUnsupported:
	}
}

func (m *SessionMetrics) incEchoDropCount() {
	m.EchoDropCount.Add(1)
}
