// Package linktest verifies the integrity and performance of a byte-stream
// serial link between two endpoints.
//
// Both ends run the same entry point, [RunSession], against a duplex
// [Transport]. The peers first elect roles through a symmetric three-step
// handshake: each side announces a high-resolution timestamp and the earlier
// timestamp wins, becoming the Initiator that controls the session budget
// and termination. The winning timestamp also seeds the shared session id,
// so both sides converge on the same identifier without a separate
// allocation step and can reject stale traffic from prior runs.
//
// The session phase then exchanges length-prefixed, CRC-protected frames in
// both directions concurrently, classifies every message outcome, and
// aggregates delivery, latency and throughput statistics into the final
// [SessionReport].
//
// The package does not guarantee delivery: lost messages are counted, never
// retransmitted. Baud rate and flow-control mode must already agree on both
// ends before the handshake begins.
package linktest
