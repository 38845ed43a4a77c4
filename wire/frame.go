package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math/rand/v2"
)

// MaxPayloadSize is the maximum number of payload bytes in a single frame.
// Length prefixes implying more than this are rejected before any payload
// byte is read, so a corrupted length can never force a huge allocation.
const MaxPayloadSize = 4096

// headerSize is the size of the frame body header (SessionID + Seq).
const headerSize = 8

// checksumSize is the size of the trailing CRC-32 in bytes.
const checksumSize = 4

// LengthPrefixSize is the size of the leading length field in bytes.
const LengthPrefixSize = 4

// MinBodySize and MaxBodySize bound the valid range of the length prefix.
const (
	MinBodySize = headerSize
	MaxBodySize = headerSize + MaxPayloadSize
)

// ControlSessionID is the reserved session id carried by control frames
// (handshake and session-end messages). Negotiated session ids never take
// this value.
const ControlSessionID uint32 = 0xFFFFFFFF

// Default payload size range for generated test payloads.
const (
	MinRandomPayload = 16
	MaxRandomPayload = 256
)

// Sentinel errors for the frame codec.
var (
	ErrInvalidLength    = errors.New("wire: invalid frame length")
	ErrChecksumMismatch = errors.New("wire: checksum mismatch")
	ErrNotControl       = errors.New("wire: not a control frame")
	ErrMalformedControl = errors.New("wire: malformed control frame")
)

// Frame is the wire-level unit of the link test protocol.
//
// Frames are immutable once packed; receivers fold them into statistics and
// discard them.
type Frame struct {
	SessionID uint32
	Seq       uint32
	Payload   []byte
}

// BodySize returns the value of the frame's length prefix:
// header size plus payload length.
func (f *Frame) BodySize() int {
	return headerSize + len(f.Payload)
}

// WireSize returns the total number of bytes the packed frame occupies.
func (f *Frame) WireSize() int {
	return LengthPrefixSize + f.BodySize() + checksumSize
}

// Checksum computes the CRC-32 (IEEE) over the frame body
// (SessionID + Seq + Payload).
func (f *Frame) Checksum() uint32 {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], f.SessionID)
	binary.LittleEndian.PutUint32(hdr[4:8], f.Seq)

	sum := crc32.ChecksumIEEE(hdr[:])

	return crc32.Update(sum, crc32.IEEETable, f.Payload)
}

// IsControl reports whether the frame carries a control message rather than
// session data.
func (f *Frame) IsControl() bool {
	return f.SessionID == ControlSessionID
}

// Pack serializes the frame to its wire format:
//
//	[Length(4)][SessionID(4)][Seq(4)][Payload][CRC32(4)]
//
// Pack panics if the payload exceeds MaxPayloadSize; callers construct
// payloads from bounded generators, so an oversized payload is a
// programming error.
func (f *Frame) Pack() []byte {
	if len(f.Payload) > MaxPayloadSize {
		panic(fmt.Sprintf("wire: payload size %d exceeds maximum %d", len(f.Payload), MaxPayloadSize))
	}

	body := f.BodySize()
	buf := make([]byte, f.WireSize())

	binary.LittleEndian.PutUint32(buf[0:4], uint32(body)) //nolint:gosec // bounded by MaxBodySize
	binary.LittleEndian.PutUint32(buf[4:8], f.SessionID)
	binary.LittleEndian.PutUint32(buf[8:12], f.Seq)
	copy(buf[12:], f.Payload)
	binary.LittleEndian.PutUint32(buf[len(buf)-checksumSize:], f.Checksum())

	return buf
}

// ValidateLength checks a decoded length prefix against the sane bounds
// [MinBodySize, MaxBodySize]. Out-of-range values are a protocol violation
// and must be rejected before reading the frame body.
func ValidateLength(length uint32) error {
	if length < MinBodySize || length > MaxBodySize {
		return fmt.Errorf("%w: got %d, want %d-%d", ErrInvalidLength, length, MinBodySize, MaxBodySize)
	}

	return nil
}

// ParseFrame deserializes a frame from its wire components.
//
// length is the value of the already-read length prefix. data must contain
// exactly length + 4 bytes (frame body followed by the CRC-32 trailer).
//
// A checksum mismatch returns ErrChecksumMismatch with the frame still
// populated, so the caller can account for the corrupted frame's size and
// sequence without trusting its content.
func ParseFrame(length uint32, data []byte) (*Frame, error) {
	if err := ValidateLength(length); err != nil {
		return nil, err
	}

	expected := int(length) + checksumSize
	if len(data) != expected {
		return nil, fmt.Errorf("%w: data length mismatch: got %d bytes, want %d", ErrInvalidLength, len(data), expected)
	}

	f := &Frame{
		SessionID: binary.LittleEndian.Uint32(data[0:4]),
		Seq:       binary.LittleEndian.Uint32(data[4:8]),
	}

	if payloadLen := int(length) - headerSize; payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		copy(f.Payload, data[headerSize:length])
	}

	wireSum := binary.LittleEndian.Uint32(data[length:])
	if calcSum := f.Checksum(); wireSum != calcSum {
		return f, fmt.Errorf("%w: wire=0x%08X, computed=0x%08X", ErrChecksumMismatch, wireSum, calcSum)
	}

	return f, nil
}

// RandomPayload generates a test payload of random content and random
// length in [MinRandomPayload, MaxRandomPayload].
func RandomPayload() []byte {
	return RandomPayloadIn(MinRandomPayload, MaxRandomPayload)
}

// RandomPayloadIn generates a test payload of random content and random
// length in [minSize, maxSize]. Callers validate the bounds; out-of-range
// sizes are clamped to [0, MaxPayloadSize].
func RandomPayloadIn(minSize, maxSize int) []byte {
	minSize = max(minSize, 0)
	maxSize = min(maxSize, MaxPayloadSize)
	if maxSize < minSize {
		maxSize = minSize
	}

	size := minSize + rand.IntN(maxSize-minSize+1)
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(rand.Uint32())
	}

	return buf
}
