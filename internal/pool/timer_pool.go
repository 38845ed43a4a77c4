// Package pool provides a shared timer pool for the session loops, which
// wait in short intervals many times per second and would otherwise churn
// through timer allocations.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer set to fire after d, reusing a pooled timer
// when one is available. Return it with PutTimer when done.
func GetTimer(d time.Duration) *time.Timer {
	v := timerPool.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t, _ := v.(*time.Timer)
	if t.Reset(d) {
		// The timer was still active; drop a pending tick so the caller
		// never observes a stale fire.
		select {
		case <-t.C:
		default:
		}
	}

	return t
}

// PutTimer stops t and returns it to the pool. The timer must not be
// touched afterward.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}

	timerPool.Put(t)
}
