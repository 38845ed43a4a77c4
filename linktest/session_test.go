package linktest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionResult struct {
	report *SessionReport
	err    error
}

func runSessionPair(ctx context.Context, ta, tb Transport, cfgA, cfgB *Config) (sessionResult, sessionResult) {
	cha := make(chan sessionResult, 1)
	chb := make(chan sessionResult, 1)

	go func() {
		rep, err := RunSession(ctx, ta, cfgA)
		cha <- sessionResult{report: rep, err: err}
	}()
	go func() {
		rep, err := RunSession(ctx, tb, cfgB)
		chb <- sessionResult{report: rep, err: err}
	}()

	return <-cha, <-chb
}

// splitRoles sorts the two session results into initiator and responder.
func splitRoles(t *testing.T, ra, rb sessionResult) (initiator, responder *SessionReport) {
	t.Helper()

	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	require.NotNil(t, ra.report)
	require.NotNil(t, rb.report)

	if ra.report.Role == RoleInitiator {
		require.Equal(t, RoleResponder, rb.report.Role)

		return ra.report, rb.report
	}

	require.Equal(t, RoleResponder, ra.report.Role)
	require.Equal(t, RoleInitiator, rb.report.Role)

	return rb.report, ra.report
}

func TestRunSessionEcho(t *testing.T) {
	ta, tb := newConnPair(t)

	const msgCount = 50

	cfgA := testConfig(t, WithMsgCount(msgCount), WithMaxInflight(8), WithRole(RoleInitiator))
	cfgB := testConfig(t, WithMaxInflight(8), WithRole(RoleResponder))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ra, rb := runSessionPair(ctx, ta, tb, cfgA, cfgB)
	initiator, responder := splitRoles(t, ra, rb)

	assert.Equal(t, initiator.SessionID, responder.SessionID)
	assert.NotZero(t, initiator.SessionID)

	// Clean loopback: every message delivered, echoed, and timed.
	assert.Equal(t, uint64(msgCount), initiator.Report.Sent)
	assert.Equal(t, uint64(msgCount), initiator.Report.Received)
	assert.Equal(t, uint64(msgCount), initiator.Report.OK)
	assert.Zero(t, initiator.Report.Corrupted)
	assert.Zero(t, initiator.Report.Lost)
	assert.Zero(t, initiator.Report.TimedOut)
	assert.Zero(t, initiator.Report.Stale)
	assert.InDelta(t, 1.0, initiator.Report.SuccessRate(), 1e-9)

	require.NotNil(t, initiator.Report.Latency)
	assert.Equal(t, msgCount, initiator.Report.Latency.Count)
	assert.Positive(t, initiator.Report.Latency.P50)
	assert.LessOrEqual(t, initiator.Report.Latency.Min, initiator.Report.Latency.P50)
	assert.LessOrEqual(t, initiator.Report.Latency.P50, initiator.Report.Latency.Max)

	// The responder received the budgeted traffic and echoed all of it.
	assert.Equal(t, uint64(msgCount), responder.Report.Received)
	assert.Equal(t, uint64(msgCount), responder.Report.OK)
	assert.Equal(t, uint64(msgCount), responder.Report.Sent)
	assert.Nil(t, responder.Report.Latency, "responder collects no round-trip samples")

	assert.Positive(t, initiator.Report.Elapsed)
	assert.Positive(t, initiator.Report.Throughput(10))
}

func TestRunSessionEchoCorruption(t *testing.T) {
	ta, tb := newConnPair(t)

	const (
		msgCount     = 20
		corruptEvery = 5
	)

	// Damage every fifth outbound data frame from this end. Echoes are
	// re-framed by the responder, so they arrive intact and the initiator
	// still clears every pending slot.
	corrupting := &corruptTransport{Transport: ta, every: corruptEvery}

	cfgA := testConfig(t, WithMsgCount(msgCount), WithRole(RoleInitiator))
	cfgB := testConfig(t, WithRole(RoleResponder))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ra, rb := runSessionPair(ctx, corrupting, tb, cfgA, cfgB)
	initiator, responder := splitRoles(t, ra, rb)

	assert.Equal(t, uint64(msgCount), responder.Report.Received)
	assert.Equal(t, uint64(msgCount/corruptEvery), responder.Report.Corrupted)
	assert.Equal(t, uint64(msgCount-msgCount/corruptEvery), responder.Report.OK)
	assert.InDelta(t, 0.8, responder.Report.SuccessRate(), 1e-9)

	// Corrupted frames are still echoed, so nothing is lost end to end.
	assert.Equal(t, uint64(msgCount), initiator.Report.Received)
	assert.Zero(t, initiator.Report.Lost)
}

func TestRunSessionDurationBudget(t *testing.T) {
	ta, tb := newConnPair(t)

	budget := 300 * time.Millisecond

	cfgA := testConfig(t, WithDuration(budget), WithMaxInflight(4), WithRole(RoleInitiator))
	cfgB := testConfig(t, WithRole(RoleResponder))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ra, rb := runSessionPair(ctx, ta, tb, cfgA, cfgB)
	initiator, responder := splitRoles(t, ra, rb)

	assert.Positive(t, initiator.Report.Sent)
	assert.GreaterOrEqual(t, initiator.Report.Elapsed, budget)
	assert.Equal(t, initiator.Report.Sent, responder.Report.Received)
}

func TestRunSessionStream(t *testing.T) {
	ta, tb := newConnPair(t)

	const msgCount = 30

	cfgA := testConfig(t, WithMode(ModeStream), WithMsgCount(msgCount), WithRole(RoleInitiator))
	cfgB := testConfig(t, WithMode(ModeStream), WithRole(RoleResponder))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ra, rb := runSessionPair(ctx, ta, tb, cfgA, cfgB)
	initiator, responder := splitRoles(t, ra, rb)

	assert.Equal(t, uint64(msgCount), initiator.Report.Sent)
	assert.Equal(t, uint64(msgCount), responder.Report.OK)
	assert.Positive(t, responder.Report.Sent, "stream responder generates its own traffic")
	assert.Zero(t, responder.Report.Corrupted)

	assert.Nil(t, initiator.Report.Latency, "stream mode collects no round-trip samples")
	assert.Nil(t, responder.Report.Latency)
}

func TestRunSessionHandshakeFailure(t *testing.T) {
	ta, _ := newConnPair(t)

	cfg := testConfig(t, WithHandshakeTimeout(MinHandshakeTimeout))

	report, err := RunSession(context.Background(), ta, cfg)

	assert.Nil(t, report, "handshake failure yields no report")
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestRunSessionNilConfig(t *testing.T) {
	ta, _ := newConnPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	report, err := RunSession(ctx, ta, nil)

	assert.Nil(t, report)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
