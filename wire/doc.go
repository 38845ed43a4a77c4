// Package wire implements the frame codec for the link test protocol.
//
// A frame on the wire is:
//
//	[Length(4)][SessionID(4)][Seq(4)][Payload(0-4096)][CRC32(4)]
//
// All multi-byte integers are little-endian. The Length field counts the
// frame body (SessionID + Seq + Payload); the trailing CRC-32 (IEEE) covers
// the same body, so corruption of the session id or sequence number is
// detected exactly like payload corruption.
//
// Control messages (handshake and session-end) reuse the same framing under
// the reserved session id ControlSessionID, with the control opcode carried
// in the Seq field. Receivers therefore need a single decode path; the
// session layer classifies frames after checksum verification.
package wire
