package linktest

import (
	"context"

	"github.com/arloliu/go-linktest/stats"
)

// SessionReport is the outcome of one link test session: the negotiated
// identity plus the aggregated message statistics and low-level metrics.
type SessionReport struct {
	// Role is the role this end played after the election.
	Role Role
	// SessionID is the shared session identity both peers derived.
	SessionID uint32
	// FlowControl echoes the configured flow control discipline.
	FlowControl FlowControl
	// Report holds the per-message outcome statistics.
	Report stats.Report
	// Metrics holds low-level transport event counters.
	Metrics *SessionMetrics
}

// RunSession performs peer establishment over the transport and then runs
// the data exchange session to completion.
//
// The handshake is strictly sequential; the concurrent session loops start
// only once both peers have converged on a session descriptor. A handshake
// failure returns a nil report. Once the session phase starts, a report is
// always returned; a non-nil error alongside it describes why the session
// ended early, with whatever statistics accumulated up to that point.
//
// The caller retains ownership of the transport and closes it after
// RunSession returns.
func RunSession(ctx context.Context, t Transport, cfg *Config) (*SessionReport, error) {
	if cfg == nil {
		var err error
		cfg, err = NewConfig()
		if err != nil {
			return nil, err
		}
	}

	fr := newFrameReader(t, cfg)

	desc, err := newNegotiator(t, fr, cfg).negotiate(ctx)
	if err != nil {
		return nil, err
	}

	runner := newSessionRunner(t, fr, cfg, desc)
	runErr := runner.run(ctx)

	report := &SessionReport{
		Role:        desc.Role,
		SessionID:   desc.SessionID,
		FlowControl: desc.FlowControl,
		Report:      runner.stats.Snapshot(),
		Metrics:     runner.metrics,
	}

	return report, runErr
}
