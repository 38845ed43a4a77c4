package linktest

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/arloliu/go-linktest/wire"
)

// Role is the negotiated role of this end of the link.
type Role int

const (
	// RoleAuto lets the handshake elect the role (the default).
	RoleAuto Role = iota
	// RoleInitiator controls the session budget and termination.
	RoleInitiator
	// RoleResponder adopts the initiator's budget and echoes traffic.
	RoleResponder
)

// String returns the role mnemonic.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "auto"
	}
}

// FlowControl enumerates the serial flow-control modes a session can be
// labeled with. The value is informational to the session logic; the actual
// line configuration happens in the transport layer.
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlRTSCTS
	FlowControlXonXoff
)

// String returns the flow-control mnemonic.
func (f FlowControl) String() string {
	switch f {
	case FlowControlRTSCTS:
		return "rtscts"
	case FlowControlXonXoff:
		return "xonxoff"
	default:
		return "none"
	}
}

// SessionDescriptor is the immutable result of peer negotiation. Both peers
// hold the same SessionID and budget with complementary roles.
type SessionDescriptor struct {
	SessionID   uint32
	Role        Role
	Budget      wire.Budget
	FlowControl FlowControl
}

// deriveSessionID derives the shared session id from the election-winning
// timestamp. Both sides compute it independently from the same input, so no
// allocation step is needed. The result never collides with the reserved
// control session id and is never zero.
func deriveSessionID(timestamp uint64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], timestamp)

	h := fnv.New32a()
	_, _ = h.Write(buf[:])

	id := h.Sum32() & 0x7FFFFFFF // keep clear of ControlSessionID
	if id == 0 {
		id = 1
	}

	return id
}
