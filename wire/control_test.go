package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlFrame_IsControl(t *testing.T) {
	syn := NewSYN(100, 200, CountBudget(50))
	assert.True(t, syn.IsControl())

	data := &Frame{SessionID: 0x1234, Seq: 1}
	assert.False(t, data.IsControl())

	_, err := data.ControlType()
	assert.ErrorIs(t, err, ErrNotControl)
}

func TestSYN_RoundTrip(t *testing.T) {
	f := NewSYN(0xDEADBEEF12345678, 0xFEEDFACE, DurationBudget(15*time.Second))

	info, err := ParseSYN(f)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xDEADBEEF12345678), info.Timestamp)
	assert.Equal(t, uint64(0xFEEDFACE), info.Nonce)
	assert.Equal(t, BudgetDuration, info.Budget.Kind)
	assert.Equal(t, 15*time.Second, info.Budget.Duration)
}

func TestSYN_SurvivesWire(t *testing.T) {
	f := NewSYN(42, 7, CountBudget(100))
	data := f.Pack()

	parsed, err := ParseFrame(uint32(f.BodySize()), data[LengthPrefixSize:])
	require.NoError(t, err)

	info, err := ParseSYN(parsed)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), info.Timestamp)
	assert.Equal(t, uint32(100), info.Budget.Count)
}

func TestSynAck_RoundTrip(t *testing.T) {
	ts, err := ParseSynAck(NewSynAck(0xABCDEF))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xABCDEF), ts)
}

func TestAck_RoundTrip(t *testing.T) {
	f := NewAck(0x7FFF1234, CountBudget(250))

	info, err := ParseAck(f)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7FFF1234), info.SessionID)
	assert.Equal(t, BudgetCount, info.Budget.Kind)
	assert.Equal(t, uint32(250), info.Budget.Count)
}

func TestSessionEnd_RoundTrip(t *testing.T) {
	tests := []struct {
		frame *Frame
		typ   ControlType
	}{
		{NewComplete(0xAA), ControlComplete},
		{NewFin(0xBB), ControlFin},
		{NewFinAck(0xCC), ControlFinAck},
	}

	for _, tc := range tests {
		got, err := tc.frame.ControlType()
		require.NoError(t, err)
		assert.Equal(t, tc.typ, got)

		id, err := ParseSessionID(tc.frame, tc.typ)
		require.NoError(t, err)
		assert.Equal(t, tc.frame.Payload[0], byte(id))
	}
}

func TestParseControl_TypeMismatch(t *testing.T) {
	_, err := ParseSYN(NewSynAck(1))
	assert.ErrorIs(t, err, ErrMalformedControl)

	_, err = ParseSessionID(NewComplete(1), ControlFin)
	assert.ErrorIs(t, err, ErrMalformedControl)
}

func TestParseControl_MalformedBody(t *testing.T) {
	truncated := controlFrame(ControlSYN, []byte{1, 2, 3})
	_, err := ParseSYN(truncated)
	assert.ErrorIs(t, err, ErrMalformedControl)

	badKind := NewSYN(1, 2, CountBudget(3))
	badKind.Payload[16] = 0xEE // budget kind byte
	_, err = ParseSYN(badKind)
	assert.ErrorIs(t, err, ErrMalformedControl)
}

func TestControlType_String(t *testing.T) {
	assert.Equal(t, "SYN", ControlSYN.String())
	assert.Equal(t, "COMPLETE", ControlComplete.String())
	assert.Contains(t, ControlType(0x99).String(), "0x99")
}
