package linktest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-linktest/logger"
	"github.com/arloliu/go-linktest/wire"
)

// rolePreferenceBias shifts the election timestamp by ten years so a peer
// with an explicit role preference reliably wins (or loses) against an
// unbiased peer while the session id still varies from run to run.
const rolePreferenceBias = uint64(10*365*24) * uint64(time.Hour)

// negotiator runs the three-step peer establishment handshake.
//
// Both peers execute the same sequential procedure: re-send SYN with their
// election timestamp until the peer's SYN arrives, elect the initiator by
// the earlier timestamp, then converge via SYN_ACK and ACK. The winning
// timestamp seeds the shared session id on both sides. Negotiation is
// all-or-nothing: any step not completed within the handshake timeout
// returns ErrHandshakeTimeout and no partial state.
type negotiator struct {
	t      Transport
	fr     *frameReader
	cfg    *Config
	logger logger.Logger

	// timestamp is this end's election key, biased by the configured role
	// preference. nonce breaks exact timestamp ties deterministically.
	timestamp uint64
	nonce     uint64
}

func newNegotiator(t Transport, fr *frameReader, cfg *Config) *negotiator {
	ts := uint64(time.Now().UnixNano()) //nolint:gosec // wall clock is positive

	switch cfg.role {
	case RoleInitiator:
		ts -= rolePreferenceBias
	case RoleResponder:
		ts += rolePreferenceBias
	case RoleAuto:
	}

	id := uuid.New()

	return &negotiator{
		t:         t,
		fr:        fr,
		cfg:       cfg,
		logger:    cfg.logger,
		timestamp: ts,
		nonce:     binary.LittleEndian.Uint64(id[:8]),
	}
}

// negotiate runs the handshake to completion and returns the agreed session
// descriptor. It is strictly sequential; the session loops start only after
// it returns.
func (n *negotiator) negotiate(ctx context.Context) (*SessionDescriptor, error) {
	deadline := time.Now().Add(n.cfg.handshakeTimeout)

	var (
		elected   bool
		initiator bool
		sessionID uint32
		lastSend  time.Time
	)

	n.logger.Info("linktest: waiting for peer",
		"timeout", n.cfg.handshakeTimeout,
		"requestedBudget", n.cfg.budget.String())

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Re-send the current step's message periodically: SYN until the
		// election settles (and while the initiator awaits SYN_ACK), or
		// SYN_ACK while the responder awaits ACK.
		if time.Since(lastSend) >= n.cfg.synInterval {
			var out *wire.Frame
			if elected && !initiator {
				out = wire.NewSynAck(n.timestamp)
			} else {
				out = wire.NewSYN(n.timestamp, n.nonce, n.cfg.budget)
			}

			if err := n.writeControl(out); err != nil {
				return nil, err
			}
			lastSend = time.Now()
		}

		f, err := n.fr.readFrame(n.cfg.readTimeout)
		if err != nil {
			if herr := n.classifyReadError(err); herr != nil {
				return nil, herr
			}

			continue
		}

		if !f.IsControl() {
			// Stale data frame from a previous run's peer winding down.
			continue
		}

		op, _ := f.ControlType()
		switch op {
		case wire.ControlSYN:
			if elected {
				continue
			}

			info, perr := wire.ParseSYN(f)
			if perr != nil {
				n.logger.Debug("linktest: malformed SYN ignored", "error", perr)

				continue
			}

			cmp := compareElection(n.timestamp, n.nonce, info.Timestamp, info.Nonce)
			if cmp == 0 {
				return nil, ErrNonceCollision
			}

			elected = true
			initiator = cmp < 0

			if initiator {
				sessionID = deriveSessionID(n.timestamp)
				n.logger.Info("linktest: peer detected, elected initiator",
					"sessionID", fmt.Sprintf("0x%08X", sessionID))
			} else {
				sessionID = deriveSessionID(info.Timestamp)
				n.logger.Info("linktest: peer detected, elected responder",
					"sessionID", fmt.Sprintf("0x%08X", sessionID))

				// Answer immediately rather than waiting out the interval.
				if err := n.writeControl(wire.NewSynAck(n.timestamp)); err != nil {
					return nil, err
				}
				lastSend = time.Now()
			}

		case wire.ControlSynAck:
			// Only the election loser sends SYN_ACK, so receiving one means
			// this end won, even if the peer's SYN itself got lost.
			if elected && !initiator {
				continue
			}

			elected = true
			initiator = true
			sessionID = deriveSessionID(n.timestamp)

			if err := n.writeControl(wire.NewAck(sessionID, n.cfg.budget)); err != nil {
				return nil, err
			}

			n.logger.Info("linktest: handshake established",
				"role", RoleInitiator.String(),
				"sessionID", fmt.Sprintf("0x%08X", sessionID),
				"budget", n.cfg.budget.String())

			return &SessionDescriptor{
				SessionID:   sessionID,
				Role:        RoleInitiator,
				Budget:      n.cfg.budget,
				FlowControl: n.cfg.flowControl,
			}, nil

		case wire.ControlAck:
			if !elected || initiator {
				continue
			}

			info, perr := wire.ParseAck(f)
			if perr != nil {
				n.logger.Debug("linktest: malformed ACK ignored", "error", perr)

				continue
			}

			if info.SessionID != sessionID {
				return nil, fmt.Errorf("%w: got 0x%08X, derived 0x%08X",
					ErrSessionIDMismatch, info.SessionID, sessionID)
			}

			n.logger.Info("linktest: handshake established",
				"role", RoleResponder.String(),
				"sessionID", fmt.Sprintf("0x%08X", sessionID),
				"budget", info.Budget.String())

			return &SessionDescriptor{
				SessionID:   sessionID,
				Role:        RoleResponder,
				Budget:      info.Budget,
				FlowControl: n.cfg.flowControl,
			}, nil

		case wire.ControlComplete, wire.ControlFin, wire.ControlFinAck:
			// Session-end chatter from a previous run. Ignore.
		}
	}

	if elected {
		n.logger.Error("linktest: peer detected but establishment incomplete",
			"timeout", n.cfg.handshakeTimeout)
	} else {
		n.logger.Error("linktest: no peer detected", "timeout", n.cfg.handshakeTimeout)
	}

	return nil, ErrHandshakeTimeout
}

// classifyReadError decides whether a readFrame failure during the
// handshake is benign (timeout, malformed frame) or fatal (transport gone).
func (n *negotiator) classifyReadError(err error) error {
	switch {
	case isTimeout(err):
		return nil
	case errors.Is(err, wire.ErrInvalidLength):
		n.fr.drainUntilSilence()

		return nil
	case errors.Is(err, wire.ErrChecksumMismatch), errors.Is(err, wire.ErrMalformedControl):
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
}

// writeControl writes one control frame under the write deadline. Timeouts
// are tolerated; the periodic re-send covers the gap.
func (n *negotiator) writeControl(f *wire.Frame) error {
	if err := n.t.SetWriteDeadline(time.Now().Add(n.cfg.writeTimeout)); err != nil {
		return err
	}

	if _, err := n.t.Write(f.Pack()); err != nil && !isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}

	return nil
}

// compareElection orders two election keys. It returns a negative value
// when (aTs, aNonce) wins, positive when (bTs, bNonce) wins, and zero only
// on a full collision. The earlier timestamp wins; equal timestamps fall
// back to the smaller nonce.
func compareElection(aTs, aNonce, bTs, bNonce uint64) int {
	switch {
	case aTs < bTs:
		return -1
	case aTs > bTs:
		return 1
	case aNonce < bNonce:
		return -1
	case aNonce > bNonce:
		return 1
	default:
		return 0
	}
}
