// Package task manages the lifecycle of the goroutines that drive a link
// test session. It provides a structured way to start, stop, and wait for
// loop tasks, ensuring cancellation and cleanup are handled in one place
// rather than scattered across the session code.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-linktest/logger"
)

// Func is the body of a loop task. It is called repeatedly until it returns
// false or the manager is stopped.
type Func func() bool

// CancelFunc runs when a task's goroutine exits, for cleanup.
type CancelFunc func()

// startTimeout bounds how long Start waits for a task goroutine to confirm
// startup.
const startTimeout = 5 * time.Second

// Manager owns a group of loop goroutines sharing one cancellation scope.
//
// Stop signals every task to exit; Wait blocks until they all have. After
// Wait returns, the manager is reset and can start tasks again (used when a
// session is rerun on the same link).
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protects ctx and cancel across Wait resets
}

// NewManager creates a Manager with the given parent context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the manager's current cancellation context. Tasks doing
// their own channel selects should use it rather than the parent context.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start launches a named loop task. fn is invoked repeatedly until it
// returns false or Stop is called; cleanup, if non-nil, runs when the
// goroutine exits. Start returns once the goroutine is confirmed running.
func (mgr *Manager) Start(name string, fn Func, cleanup CancelFunc) error {
	ctx := mgr.Context()

	select {
	case <-ctx.Done():
		return fmt.Errorf("task: manager already stopped, cannot start %s", name)
	default:
	}

	mgr.logger.Debug("task: start", "name", name)

	started := make(chan struct{})
	mgr.wg.Add(1)

	go func() {
		defer mgr.wg.Done()

		mgr.count.Add(1)
		close(started)

		defer func() {
			if cleanup != nil {
				cleanup()
			}
			mgr.count.Add(-1)
			mgr.logger.Debug("task: terminated", "name", name, "taskCount", mgr.Count())
		}()

		mgr.runLoop(name, fn)
	}()

	select {
	case <-started:
		return nil
	case <-time.After(startTimeout):
		return fmt.Errorf("task: timeout waiting for %s to start", name)
	case <-ctx.Done():
		return fmt.Errorf("task: manager stopped while starting %s", name)
	}
}

// runLoop drives a task function with cancellation checks and panic
// protection. A panicking task terminates only its own goroutine.
func (mgr *Manager) runLoop(name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("task: panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-mgr.Context().Done():
			return
		default:
			if !fn() {
				return
			}
		}
	}
}

// Stop signals all running tasks to exit. It does not wait; call Wait.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.cancel != nil {
		mgr.cancel()
	}
}

// Wait blocks until every task goroutine has terminated, then resets the
// manager's cancellation scope so new tasks can be started.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of currently running task goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}
