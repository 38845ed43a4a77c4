package linktest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arloliu/go-linktest/wire"
)

func TestDeriveSessionID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, deriveSessionID(1234567890), deriveSessionID(1234567890))
	})

	t.Run("reserved values excluded", func(t *testing.T) {
		for ts := uint64(0); ts < 10000; ts++ {
			id := deriveSessionID(ts)
			assert.NotZero(t, id)
			assert.NotEqual(t, wire.ControlSessionID, id)
			assert.Zero(t, id&0x80000000, "high bit must stay clear")
		}
	})

	t.Run("distinct timestamps spread", func(t *testing.T) {
		seen := make(map[uint32]bool)
		for ts := uint64(0); ts < 1000; ts++ {
			seen[deriveSessionID(ts)] = true
		}
		// FNV over distinct inputs should essentially never collide at
		// this scale.
		assert.Greater(t, len(seen), 990)
	})
}

func TestCompareElection(t *testing.T) {
	tests := []struct {
		name                     string
		aTs, aNonce, bTs, bNonce uint64
		want                     int
	}{
		{"earlier timestamp wins", 100, 9, 200, 1, -1},
		{"later timestamp loses", 200, 1, 100, 9, 1},
		{"tie broken by lower nonce", 100, 1, 100, 2, -1},
		{"tie broken by higher nonce", 100, 2, 100, 1, 1},
		{"full collision", 100, 1, 100, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compareElection(tt.aTs, tt.aNonce, tt.bTs, tt.bNonce))
		})
	}
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "auto", RoleAuto.String())
	assert.Equal(t, "initiator", RoleInitiator.String())
	assert.Equal(t, "responder", RoleResponder.String())
}

func TestFlowControlString(t *testing.T) {
	assert.Equal(t, "none", FlowControlNone.String())
	assert.Equal(t, "rtscts", FlowControlRTSCTS.String())
	assert.Equal(t, "xonxoff", FlowControlXonXoff.String())
}
