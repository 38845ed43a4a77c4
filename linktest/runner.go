package linktest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-linktest/internal/pool"
	"github.com/arloliu/go-linktest/internal/task"
	"github.com/arloliu/go-linktest/logger"
	"github.com/arloliu/go-linktest/stats"
	"github.com/arloliu/go-linktest/wire"
)

const (
	// minSafetyTimeout floors the responder's watchdog so tiny budgets
	// still leave room for handshake skew and warmup.
	minSafetyTimeout = 10 * time.Second
	// inflightPollInterval paces the send loop while the pending window
	// is full.
	inflightPollInterval = time.Millisecond
	// drainPollInterval paces the wait for outstanding echoes during the
	// completion sequence.
	drainPollInterval = 5 * time.Millisecond
	// outChanSize bounds the responder's outbound queue. Echoes past a
	// full queue are dropped and counted; the protocol has no delivery
	// guarantee, so the initiator marks them Lost.
	outChanSize = 64
)

// sessionRunner drives the data exchange phase of an established session.
//
// Exactly two managed tasks run per session: the receive loop, which owns
// all transport reads, and the send loop, which owns all transport writes.
// Frames originated by the receive loop (echoes, FIN_ACK, a re-sent ACK)
// are funneled to the send loop through outChan so the transport never has
// two writers.
type sessionRunner struct {
	t      Transport
	fr     *frameReader
	cfg    *Config
	desc   *SessionDescriptor
	logger logger.Logger

	mgr     *task.Manager
	stats   *stats.RunningStats
	metrics *SessionMetrics

	// pending maps in-flight seq to send time on the echo-mode initiator.
	pending *xsync.MapOf[uint32, time.Time]

	outChan    chan *wire.Frame
	finAckChan chan struct{}
	doneChan   chan struct{}
	fatalChan  chan error

	finAckOnce sync.Once
	doneOnce   sync.Once

	startedAt      time.Time
	warmupDeadline time.Time

	// completedAtNano is set by the receive loop when the initiator's
	// COMPLETE marker arrives. Zero means still streaming.
	completedAtNano atomic.Int64

	// Owned by the send loop.
	nextSeq        uint32
	msgsSent       uint32
	consecTimeouts int
}

func newSessionRunner(t Transport, fr *frameReader, cfg *Config, desc *SessionDescriptor) *sessionRunner {
	return &sessionRunner{
		t:          t,
		fr:         fr,
		cfg:        cfg,
		desc:       desc,
		logger:     cfg.logger,
		stats:      stats.New(),
		metrics:    &SessionMetrics{},
		pending:    xsync.NewMapOf[uint32, time.Time](),
		outChan:    make(chan *wire.Frame, outChanSize),
		finAckChan: make(chan struct{}),
		doneChan:   make(chan struct{}),
		fatalChan:  make(chan error, 1),
	}
}

// run executes the session until the budget is exhausted, a fatal error
// occurs, or ctx is canceled. Statistics accumulate in r.stats either way.
func (r *sessionRunner) run(ctx context.Context) error {
	r.startedAt = time.Now()
	r.warmupDeadline = r.startedAt.Add(r.cfg.warmupWindow)
	r.mgr = task.NewManager(ctx, r.logger)

	r.logger.Info("linktest: session started",
		"role", r.desc.Role.String(),
		"mode", r.cfg.mode.String(),
		"sessionID", fmt.Sprintf("0x%08X", r.desc.SessionID),
		"budget", r.desc.Budget.String())

	if err := r.mgr.Start("linktest-recv", r.recvLoop, nil); err != nil {
		return err
	}

	sendFn := r.responderLoop
	if r.desc.Role == RoleInitiator {
		sendFn = r.initiatorLoop
	}

	if err := r.mgr.Start("linktest-send", sendFn, nil); err != nil {
		r.mgr.Stop()
		r.mgr.Wait()

		return err
	}

	var runErr error

	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-r.fatalChan:
		runErr = err
	case <-r.doneChan:
	}

	r.mgr.Stop()
	r.mgr.Wait()

	// The loops are down; write anything still queued (typically the
	// closing FIN_ACK) so the peer is not left waiting it out.
	if runErr == nil {
		r.flushOut()
	}

	r.stats.Finish()

	// A loop may have failed in the same instant the session completed.
	if runErr == nil {
		select {
		case err := <-r.fatalChan:
			runErr = err
		default:
		}
	}

	return runErr
}

// --- Receive loop ---

func (r *sessionRunner) recvLoop() bool {
	f, err := r.fr.readFrame(r.cfg.readTimeout)

	corrupted := errors.Is(err, wire.ErrChecksumMismatch)
	if err != nil && !corrupted {
		switch {
		case isTimeout(err):
			if r.desc.Role == RoleResponder && r.safetyTimeoutTripped() {
				return false
			}

			return true
		case errors.Is(err, wire.ErrInvalidLength):
			r.metrics.incDecodeErrorCount()
			r.metrics.addResyncBytes(r.fr.drainUntilSilence())

			return true
		default:
			r.fail(fmt.Errorf("%w: %w", ErrTransportClosed, err))

			return false
		}
	}

	if f.IsControl() {
		if corrupted {
			// The opcode cannot be trusted. Drop it; control frames are
			// protocol overhead, not part of the message statistics.
			r.metrics.incDecodeErrorCount()

			return true
		}

		return r.handleControl(f)
	}

	wireBytes := f.WireSize()

	// Session id is classified before the checksum: a frame from another
	// run is stale regardless of whether it also arrived damaged.
	if f.SessionID != r.desc.SessionID {
		r.stats.Record(stats.Stale, wireBytes)

		return true
	}

	if corrupted {
		r.stats.Record(stats.Corrupted, wireBytes)
	} else {
		r.stats.Record(stats.Delivered, wireBytes)
	}

	if r.cfg.mode != ModeEcho {
		return true
	}

	switch r.desc.Role {
	case RoleInitiator:
		// Echoed frame. An echo that came back damaged still clears its
		// pending slot; it was not lost, just corrupted in flight.
		if sentAt, ok := r.pending.LoadAndDelete(f.Seq); ok && !corrupted {
			r.stats.RecordRTT(time.Since(sentAt))
		}
	case RoleResponder, RoleAuto:
		// Echo the frame back, damage and all, so the initiator can
		// classify what actually traversed the link.
		echo := &wire.Frame{SessionID: r.desc.SessionID, Seq: f.Seq, Payload: f.Payload}
		select {
		case r.outChan <- echo:
		default:
			r.metrics.incEchoDropCount()
		}
	}

	return true
}

func (r *sessionRunner) handleControl(f *wire.Frame) bool {
	op, err := f.ControlType()
	if err != nil {
		return true
	}

	switch op {
	case wire.ControlSynAck:
		// The peer never saw our ACK. Re-send it so the responder can
		// leave the handshake; our own session is already running.
		if r.desc.Role == RoleInitiator {
			select {
			case r.outChan <- wire.NewAck(r.desc.SessionID, r.desc.Budget):
			default:
			}
		}

	case wire.ControlComplete:
		if sid, perr := wire.ParseSessionID(f, wire.ControlComplete); perr == nil && sid == r.desc.SessionID {
			r.completedAtNano.Store(time.Now().UnixNano())
			r.logger.Info("linktest: completion marker received")
		}

	case wire.ControlFin:
		if r.desc.Role != RoleResponder {
			return true
		}

		if sid, perr := wire.ParseSessionID(f, wire.ControlFin); perr == nil && sid == r.desc.SessionID {
			select {
			case r.outChan <- wire.NewFinAck(r.desc.SessionID):
			default:
			}
			r.signalDone()
		}

	case wire.ControlFinAck:
		if r.desc.Role != RoleInitiator {
			return true
		}

		if sid, perr := wire.ParseSessionID(f, wire.ControlFinAck); perr == nil && sid == r.desc.SessionID {
			r.finAckOnce.Do(func() { close(r.finAckChan) })
		}

	case wire.ControlSYN, wire.ControlAck:
		// Late handshake chatter. Ignore.
	}

	return true
}

// --- Send loop: initiator ---

func (r *sessionRunner) initiatorLoop() bool {
	ctx := r.mgr.Context()

	select {
	case <-ctx.Done():
		return false
	case f := <-r.outChan:
		return r.writeQueued(f)
	default:
	}

	if r.budgetExhausted() {
		r.completeSession(ctx)

		return false
	}

	if r.cfg.mode == ModeEcho {
		r.expirePending()

		if r.pending.Size() >= r.cfg.maxInflight {
			r.idle(ctx, inflightPollInterval)

			return true
		}
	}

	f := &wire.Frame{
		SessionID: r.desc.SessionID,
		Seq:       r.nextSeq,
		Payload:   wire.RandomPayloadIn(r.cfg.minPayload, r.cfg.maxPayload),
	}
	r.nextSeq++

	if r.cfg.mode == ModeEcho {
		r.pending.Store(f.Seq, time.Now())
	}

	timedOut, err := r.writeFrame(f)
	if timedOut {
		r.stats.Record(stats.TimedOut, 0)
		r.pending.Delete(f.Seq)
	}

	if err != nil {
		r.fail(err)

		return false
	}

	if timedOut {
		return true
	}

	r.stats.RecordSent(f.WireSize())
	r.msgsSent++

	return true
}

// expirePending marks pending echoes older than the per-message timeout as
// lost.
func (r *sessionRunner) expirePending() {
	now := time.Now()

	r.pending.Range(func(seq uint32, sentAt time.Time) bool {
		if now.Sub(sentAt) > r.cfg.perMsgTimeout {
			if _, ok := r.pending.LoadAndDelete(seq); ok {
				r.stats.Record(stats.Lost, 0)
			}
		}

		return true
	})
}

func (r *sessionRunner) budgetExhausted() bool {
	if r.desc.Budget.Kind == wire.BudgetDuration {
		return time.Since(r.startedAt) >= r.desc.Budget.Duration
	}

	return r.msgsSent >= r.desc.Budget.Count
}

// completeSession runs the initiator's termination sequence: drain
// outstanding echoes, mark stragglers lost, then COMPLETE, FIN, and a
// bounded wait for FIN_ACK.
func (r *sessionRunner) completeSession(ctx context.Context) {
	if r.cfg.mode == ModeEcho {
		drainDeadline := time.Now().Add(r.cfg.perMsgTimeout)

		for r.pending.Size() > 0 && time.Now().Before(drainDeadline) {
			if !r.idle(ctx, drainPollInterval) {
				return
			}
		}

		r.pending.Range(func(seq uint32, _ time.Time) bool {
			if _, ok := r.pending.LoadAndDelete(seq); ok {
				r.stats.Record(stats.Lost, 0)
			}

			return true
		})
	}

	if _, err := r.writeFrame(wire.NewComplete(r.desc.SessionID)); err != nil {
		r.fail(err)

		return
	}

	if _, err := r.writeFrame(wire.NewFin(r.desc.SessionID)); err != nil {
		r.fail(err)

		return
	}

	finWait := pool.GetTimer(r.cfg.finWaitTimeout)
	defer pool.PutTimer(finWait)

	select {
	case <-r.finAckChan:
		r.logger.Info("linktest: session closed by peer acknowledgment")
	case <-finWait.C:
		r.logger.Warn("linktest: no FIN_ACK from peer, closing anyway",
			"waited", r.cfg.finWaitTimeout)
	case <-ctx.Done():
		return
	}

	r.signalDone()
}

// --- Send loop: responder ---

func (r *sessionRunner) responderLoop() bool {
	ctx := r.mgr.Context()

	select {
	case <-ctx.Done():
		return false
	case <-r.doneChan:
		r.flushOut()

		return false
	case f := <-r.outChan:
		return r.writeQueued(f)
	default:
	}

	if r.cfg.mode == ModeStream && r.completedAtNano.Load() == 0 {
		f := &wire.Frame{
			SessionID: r.desc.SessionID,
			Seq:       r.nextSeq,
			Payload:   wire.RandomPayloadIn(r.cfg.minPayload, r.cfg.maxPayload),
		}
		r.nextSeq++

		return r.writeQueuedData(f)
	}

	// Echo mode idles here until the receive loop queues work.
	idle := pool.GetTimer(r.cfg.readTimeout)
	defer pool.PutTimer(idle)

	select {
	case <-ctx.Done():
		return false
	case <-r.doneChan:
		r.flushOut()

		return false
	case f := <-r.outChan:
		return r.writeQueued(f)
	case <-idle.C:
		return true
	}
}

// idle parks the send loop for d without allocating a fresh timer per
// wait. It returns false when ctx was canceled.
func (r *sessionRunner) idle(ctx context.Context, d time.Duration) bool {
	t := pool.GetTimer(d)
	defer pool.PutTimer(t)

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// safetyTimeoutTripped checks the responder's watchdog: if the initiator's
// completion marker has not arrived within twice the budget estimate, the
// peer is assumed gone and the session fails. After the marker the data
// phase is over, so a missing FIN only gets a short grace window before
// the session ends cleanly with what was collected.
func (r *sessionRunner) safetyTimeoutTripped() bool {
	if completedAt := r.completedAtNano.Load(); completedAt != 0 {
		if time.Since(time.Unix(0, completedAt)) <= r.cfg.finWaitTimeout {
			return false
		}

		r.logger.Warn("linktest: no FIN after completion marker, closing anyway",
			"waited", r.cfg.finWaitTimeout)
		r.signalDone()

		return true
	}

	if time.Since(r.startedAt) <= r.safetyTimeout() {
		return false
	}

	r.fail(ErrResponderTimeout)

	return true
}

func (r *sessionRunner) safetyTimeout() time.Duration {
	var estimate time.Duration
	if r.desc.Budget.Kind == wire.BudgetDuration {
		estimate = r.desc.Budget.Duration
	} else {
		estimate = time.Duration(r.desc.Budget.Count) * r.cfg.perMsgTimeout
	}

	estimate *= 2
	if estimate < minSafetyTimeout {
		estimate = minSafetyTimeout
	}

	return estimate
}

// --- Shared write path ---

// writeQueued writes one frame from outChan, accounting data frames in the
// statistics and passing control frames through uncounted.
func (r *sessionRunner) writeQueued(f *wire.Frame) bool {
	if f.IsControl() {
		if _, err := r.writeFrame(f); err != nil {
			r.fail(err)

			return false
		}

		return true
	}

	return r.writeQueuedData(f)
}

func (r *sessionRunner) writeQueuedData(f *wire.Frame) bool {
	timedOut, err := r.writeFrame(f)
	if timedOut {
		r.stats.Record(stats.TimedOut, 0)
	}

	if err != nil {
		r.fail(err)

		return false
	}

	if !timedOut {
		r.stats.RecordSent(f.WireSize())
	}

	return true
}

// writeFrame writes one frame under the write deadline.
//
// Inside the warmup window, write timeouts are retried without counting:
// USB-serial adapters and freshly opened ports routinely stall for the
// first moments of a session. After warmup, a timeout captures the
// hardware handshake line state for diagnosis and counts toward the
// consecutive-timeout abort limit. The returned timedOut flag tells the
// caller to classify the frame; a non-nil error is fatal for the session.
func (r *sessionRunner) writeFrame(f *wire.Frame) (timedOut bool, err error) {
	data := f.Pack()

	for {
		if derr := r.t.SetWriteDeadline(time.Now().Add(r.cfg.writeTimeout)); derr != nil {
			return false, fmt.Errorf("%w: %w", ErrTransportClosed, derr)
		}

		_, werr := r.t.Write(data)
		if werr == nil {
			r.consecTimeouts = 0

			return false, nil
		}

		if !isTimeout(werr) {
			return false, fmt.Errorf("%w: %w", ErrTransportClosed, werr)
		}

		if time.Now().Before(r.warmupDeadline) {
			r.metrics.incWarmupRetryCount()

			select {
			case <-r.mgr.Context().Done():
				return false, r.mgr.Context().Err()
			default:
			}

			continue
		}

		state := r.t.HandshakeLine()
		r.metrics.recordTimeoutLineState(state)
		r.consecTimeouts++

		r.logger.Warn("linktest: write timeout",
			"consecutive", r.consecTimeouts,
			"limit", r.cfg.timeoutLimit,
			"handshakeLine", state.String())

		if r.consecTimeouts >= r.cfg.timeoutLimit {
			return true, ErrWriteTimeoutLimit
		}

		return true, nil
	}
}

// flushOut writes any frames still queued when the session ends, so the
// closing FIN_ACK reaches the peer.
func (r *sessionRunner) flushOut() {
	for {
		select {
		case f := <-r.outChan:
			if _, err := r.writeFrame(f); err != nil {
				r.logger.Debug("linktest: flush write failed", "error", err)

				return
			}
		default:
			return
		}
	}
}

func (r *sessionRunner) signalDone() {
	r.doneOnce.Do(func() { close(r.doneChan) })
}

func (r *sessionRunner) fail(err error) {
	select {
	case r.fatalChan <- err:
	default:
	}
}
