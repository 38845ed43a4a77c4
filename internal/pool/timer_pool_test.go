package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerReuse(t *testing.T) {
	t1 := GetTimer(10 * time.Millisecond)
	require.NotNil(t, t1)
	PutTimer(t1)

	t2 := GetTimer(10 * time.Millisecond)
	require.NotNil(t, t2)

	select {
	case <-t2.C:
	case <-time.After(time.Second):
		t.Fatal("pooled timer never fired")
	}

	PutTimer(t2)
}

func TestStaleTickDropped(t *testing.T) {
	t1 := GetTimer(time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// The timer has fired and its tick is pending. Returning it and
	// reacquiring must not surface the old tick early.
	PutTimer(t1)

	t2 := GetTimer(50 * time.Millisecond)

	select {
	case <-t2.C:
		t.Fatal("stale tick leaked into reused timer")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-t2.C:
	case <-time.After(time.Second):
		t.Fatal("reused timer never fired")
	}

	PutTimer(t2)
}

func TestPutStopsActiveTimer(t *testing.T) {
	t1 := GetTimer(30 * time.Millisecond)
	PutTimer(t1)

	assert.NotPanics(t, func() {
		t2 := GetTimer(time.Millisecond)
		<-t2.C
		PutTimer(t2)
	})
}
