package linktest

import "errors"

// Sentinel errors for the link test protocol.
var (
	// ErrHandshakeTimeout is returned when peer negotiation does not
	// complete within the handshake timeout. No session is produced.
	ErrHandshakeTimeout = errors.New("linktest: handshake timeout, no peer detected")

	// ErrNonceCollision is returned when both peers announce identical
	// timestamps and identical tie-break nonces, making the initiator
	// election undecidable.
	ErrNonceCollision = errors.New("linktest: handshake nonce collision, election undecidable")

	// ErrSessionIDMismatch is returned by the responder when the session id
	// in the initiator's ACK does not match its own derivation.
	ErrSessionIDMismatch = errors.New("linktest: negotiated session id mismatch")

	// ErrWriteTimeoutLimit is returned when consecutive post-warmup write
	// timeouts exceed the configured limit. The session aborts; accumulated
	// statistics are still reported.
	ErrWriteTimeoutLimit = errors.New("linktest: consecutive write timeout limit exceeded")

	// ErrTransportClosed is returned when the underlying transport fails
	// with a non-timeout error during the session.
	ErrTransportClosed = errors.New("linktest: transport closed")

	// ErrResponderTimeout is returned when the responder's safety timeout
	// elapses without receiving the initiator's completion marker.
	ErrResponderTimeout = errors.New("linktest: responder safety timeout, no completion marker received")
)
