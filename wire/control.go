package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ControlType identifies a control message. Control frames carry the opcode
// in the Seq field under the reserved ControlSessionID.
type ControlType uint32

const (
	ControlSYN      ControlType = 0x01 // SYN{timestamp, nonce, requested budget}
	ControlSynAck   ControlType = 0x02 // SYN_ACK{timestamp}
	ControlAck      ControlType = 0x03 // ACK{agreed session id, agreed budget}
	ControlComplete ControlType = 0x04 // COMPLETE{session id}: initiator's end-of-data marker
	ControlFin      ControlType = 0x05 // FIN{session id}
	ControlFinAck   ControlType = 0x06 // FIN_ACK{session id}
)

// String returns the control type mnemonic.
func (t ControlType) String() string {
	switch t {
	case ControlSYN:
		return "SYN"
	case ControlSynAck:
		return "SYN_ACK"
	case ControlAck:
		return "ACK"
	case ControlComplete:
		return "COMPLETE"
	case ControlFin:
		return "FIN"
	case ControlFinAck:
		return "FIN_ACK"
	default:
		return fmt.Sprintf("ControlType(0x%02X)", uint32(t))
	}
}

// ControlType returns the opcode of a control frame, or ErrNotControl for
// data frames.
func (f *Frame) ControlType() (ControlType, error) {
	if !f.IsControl() {
		return 0, ErrNotControl
	}

	return ControlType(f.Seq), nil
}

// --- Session budget ---

// BudgetKind discriminates the two mutually exclusive session bounds.
type BudgetKind uint8

const (
	// BudgetCount bounds the session by a number of messages.
	BudgetCount BudgetKind = 0
	// BudgetDuration bounds the session by elapsed time.
	BudgetDuration BudgetKind = 1
)

// Budget is the session bound negotiated during the handshake. Exactly one
// of Count or Duration is meaningful, selected by Kind.
type Budget struct {
	Kind     BudgetKind
	Count    uint32
	Duration time.Duration
}

// CountBudget returns a message-count session bound.
func CountBudget(n uint32) Budget {
	return Budget{Kind: BudgetCount, Count: n}
}

// DurationBudget returns an elapsed-time session bound.
func DurationBudget(d time.Duration) Budget {
	return Budget{Kind: BudgetDuration, Duration: d}
}

// String renders the budget for logs.
func (b Budget) String() string {
	if b.Kind == BudgetDuration {
		return b.Duration.String()
	}

	return fmt.Sprintf("%d msgs", b.Count)
}

// budgetWireSize is the encoded size of a Budget: [kind(1)][value(8)].
const budgetWireSize = 9

func (b Budget) appendTo(buf []byte) []byte {
	buf = append(buf, byte(b.Kind))

	var value uint64
	if b.Kind == BudgetDuration {
		value = uint64(b.Duration.Nanoseconds()) //nolint:gosec // durations are validated non-negative
	} else {
		value = uint64(b.Count)
	}

	return binary.LittleEndian.AppendUint64(buf, value)
}

func parseBudget(data []byte) (Budget, error) {
	if len(data) != budgetWireSize {
		return Budget{}, fmt.Errorf("%w: budget size %d, want %d", ErrMalformedControl, len(data), budgetWireSize)
	}

	kind := BudgetKind(data[0])
	value := binary.LittleEndian.Uint64(data[1:])

	switch kind {
	case BudgetDuration:
		return DurationBudget(time.Duration(value)), nil //nolint:gosec // bounded by config validation on the sender
	case BudgetCount:
		if value > 0xFFFFFFFF {
			return Budget{}, fmt.Errorf("%w: message count %d overflows uint32", ErrMalformedControl, value)
		}

		return CountBudget(uint32(value)), nil
	default:
		return Budget{}, fmt.Errorf("%w: unknown budget kind 0x%02X", ErrMalformedControl, kind)
	}
}

// --- Control message constructors ---

// controlFrame builds a frame carrying opcode t and the given body.
func controlFrame(t ControlType, body []byte) *Frame {
	return &Frame{SessionID: ControlSessionID, Seq: uint32(t), Payload: body}
}

// NewSYN builds a SYN control frame carrying the sender's high-resolution
// timestamp, its tie-break nonce and its requested session budget.
func NewSYN(timestamp uint64, nonce uint64, budget Budget) *Frame {
	body := make([]byte, 0, 16+budgetWireSize)
	body = binary.LittleEndian.AppendUint64(body, timestamp)
	body = binary.LittleEndian.AppendUint64(body, nonce)
	body = budget.appendTo(body)

	return controlFrame(ControlSYN, body)
}

// NewSynAck builds a SYN_ACK control frame echoing the responder's timestamp.
func NewSynAck(timestamp uint64) *Frame {
	body := binary.LittleEndian.AppendUint64(make([]byte, 0, 8), timestamp)

	return controlFrame(ControlSynAck, body)
}

// NewAck builds an ACK control frame carrying the agreed session id and the
// initiator's authoritative budget.
func NewAck(sessionID uint32, budget Budget) *Frame {
	body := make([]byte, 0, 4+budgetWireSize)
	body = binary.LittleEndian.AppendUint32(body, sessionID)
	body = budget.appendTo(body)

	return controlFrame(ControlAck, body)
}

// NewComplete builds the initiator's end-of-data marker for the session.
func NewComplete(sessionID uint32) *Frame {
	return controlFrame(ControlComplete, sessionIDBody(sessionID))
}

// NewFin builds a FIN control frame for the session.
func NewFin(sessionID uint32) *Frame {
	return controlFrame(ControlFin, sessionIDBody(sessionID))
}

// NewFinAck builds a FIN_ACK control frame for the session.
func NewFinAck(sessionID uint32) *Frame {
	return controlFrame(ControlFinAck, sessionIDBody(sessionID))
}

func sessionIDBody(sessionID uint32) []byte {
	return binary.LittleEndian.AppendUint32(make([]byte, 0, 4), sessionID)
}

// --- Control message parsers ---

// SYNInfo is the decoded body of a SYN control frame.
type SYNInfo struct {
	Timestamp uint64
	Nonce     uint64
	Budget    Budget
}

// ParseSYN decodes the body of a SYN control frame.
func ParseSYN(f *Frame) (SYNInfo, error) {
	if err := expectControl(f, ControlSYN); err != nil {
		return SYNInfo{}, err
	}
	if len(f.Payload) != 16+budgetWireSize {
		return SYNInfo{}, fmt.Errorf("%w: SYN body size %d", ErrMalformedControl, len(f.Payload))
	}

	budget, err := parseBudget(f.Payload[16:])
	if err != nil {
		return SYNInfo{}, err
	}

	return SYNInfo{
		Timestamp: binary.LittleEndian.Uint64(f.Payload[0:8]),
		Nonce:     binary.LittleEndian.Uint64(f.Payload[8:16]),
		Budget:    budget,
	}, nil
}

// ParseSynAck decodes the timestamp from a SYN_ACK control frame.
func ParseSynAck(f *Frame) (uint64, error) {
	if err := expectControl(f, ControlSynAck); err != nil {
		return 0, err
	}
	if len(f.Payload) != 8 {
		return 0, fmt.Errorf("%w: SYN_ACK body size %d", ErrMalformedControl, len(f.Payload))
	}

	return binary.LittleEndian.Uint64(f.Payload), nil
}

// AckInfo is the decoded body of an ACK control frame.
type AckInfo struct {
	SessionID uint32
	Budget    Budget
}

// ParseAck decodes the body of an ACK control frame.
func ParseAck(f *Frame) (AckInfo, error) {
	if err := expectControl(f, ControlAck); err != nil {
		return AckInfo{}, err
	}
	if len(f.Payload) != 4+budgetWireSize {
		return AckInfo{}, fmt.Errorf("%w: ACK body size %d", ErrMalformedControl, len(f.Payload))
	}

	budget, err := parseBudget(f.Payload[4:])
	if err != nil {
		return AckInfo{}, err
	}

	return AckInfo{
		SessionID: binary.LittleEndian.Uint32(f.Payload[0:4]),
		Budget:    budget,
	}, nil
}

// ParseSessionID decodes the session id body shared by COMPLETE, FIN and
// FIN_ACK control frames.
func ParseSessionID(f *Frame, t ControlType) (uint32, error) {
	if err := expectControl(f, t); err != nil {
		return 0, err
	}
	if len(f.Payload) != 4 {
		return 0, fmt.Errorf("%w: %s body size %d", ErrMalformedControl, t, len(f.Payload))
	}

	return binary.LittleEndian.Uint32(f.Payload), nil
}

func expectControl(f *Frame, want ControlType) error {
	got, err := f.ControlType()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrMalformedControl, got, want)
	}

	return nil
}
