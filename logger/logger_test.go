package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogLevelRoundTrip(t *testing.T) {
	for _, level := range []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel} {
		l := NewSlog(level, false)
		assert.Equal(t, level, l.Level())
	}

	l := NewSlog(InfoLevel, false)
	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
}

func TestZerologLevelRoundTrip(t *testing.T) {
	for _, level := range []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel} {
		l := NewZerolog(level)
		assert.Equal(t, level, l.Level())
	}
}

func TestMockLogger(t *testing.T) {
	m := NewMockLogger()
	m.On("Info", "session started", []any{"role", "initiator"}).Once()
	m.On("Level").Return(InfoLevel)

	m.Info("session started", "role", "initiator")
	assert.Equal(t, InfoLevel, m.Level())

	m.AssertExpectations(t)
}
