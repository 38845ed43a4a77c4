package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-linktest/logger"
)

func quietLogger() logger.Logger {
	l := logger.NewSlog(logger.ErrorLevel, false)
	return l
}

func TestManager_StartAndStop(t *testing.T) {
	mgr := NewManager(context.Background(), quietLogger())

	var iterations atomic.Int64
	err := mgr.Start("counter", func() bool {
		iterations.Add(1)
		time.Sleep(time.Millisecond)
		return true
	}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return iterations.Load() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, mgr.Count())

	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_TaskSelfTerminates(t *testing.T) {
	mgr := NewManager(context.Background(), quietLogger())

	cleanupRan := make(chan struct{})
	err := mgr.Start("oneshot", func() bool {
		return false
	}, func() {
		close(cleanupRan)
	})
	require.NoError(t, err)

	select {
	case <-cleanupRan:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not run after task terminated")
	}

	mgr.Wait()
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_PanicIsContained(t *testing.T) {
	mgr := NewManager(context.Background(), quietLogger())

	require.NoError(t, mgr.Start("panicky", func() bool {
		panic("boom")
	}, nil))

	var alive atomic.Bool
	require.NoError(t, mgr.Start("survivor", func() bool {
		alive.Store(true)
		time.Sleep(time.Millisecond)
		return true
	}, nil))

	assert.Eventually(t, func() bool { return alive.Load() }, time.Second, time.Millisecond)

	mgr.Stop()
	mgr.Wait()
}

func TestManager_StartAfterStopFails(t *testing.T) {
	mgr := NewManager(context.Background(), quietLogger())
	mgr.Stop()

	err := mgr.Start("late", func() bool { return false }, nil)
	assert.Error(t, err)
}

func TestManager_ResetAfterWait(t *testing.T) {
	mgr := NewManager(context.Background(), quietLogger())

	require.NoError(t, mgr.Start("first", func() bool { return false }, nil))
	mgr.Stop()
	mgr.Wait()

	// The manager must be reusable for a follow-up session.
	require.NoError(t, mgr.Start("second", func() bool { return false }, nil))
	mgr.Wait()
}

func TestManager_ParentContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewManager(ctx, quietLogger())

	require.NoError(t, mgr.Start("loop", func() bool {
		time.Sleep(time.Millisecond)
		return true
	}, nil))

	cancel()
	mgr.Wait()
	assert.Equal(t, 0, mgr.Count())
}
