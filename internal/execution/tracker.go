package execution

import (
	"log/slog"
	"sync"
	"time"
)

// Tracker counts in-flight executions for graceful shutdown. Once draining,
// new executions are rejected and Drain waits for the running ones.
type Tracker struct {
	wg       sync.WaitGroup
	mu       sync.RWMutex
	draining bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Acquire registers a new execution. Returns false while draining.
func (t *Tracker) Acquire() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	return true
}

// Release marks an execution as finished.
func (t *Tracker) Release() {
	t.wg.Done()
}

// Drain stops accepting executions and waits up to timeout for active ones.
// Returns false if the timeout elapsed with executions still running.
func (t *Tracker) Drain(timeout time.Duration) bool {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	slog.Info("draining active executions", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all active executions completed")
		return true
	case <-time.After(timeout):
		slog.Warn("drain timeout reached, some executions may be interrupted")
		return false
	}
}

// IsDraining reports whether shutdown has begun.
func (t *Tracker) IsDraining() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.draining
}
