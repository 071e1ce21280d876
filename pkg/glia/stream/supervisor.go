package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Supervisor owns the background producer tasks spawned by streaming
// handlers. Tasks run on the supervisor's context, not the request
// context, so a client disconnect does not kill persistence. Shutdown
// cancels the context and waits for every task to drain.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu    sync.Mutex
	count int
}

// NewSupervisor creates a supervisor rooted at base. Server code passes
// its lifetime context.
func NewSupervisor(base context.Context, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(base)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "supervisor"),
	}
}

// Go runs fn as a supervised task. Panics are contained and logged so
// one bad producer cannot take the server down.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.count--
			s.mu.Unlock()
			if r := recover(); r != nil {
				s.logger.Error("task panicked", "task", name, "panic", r)
			}
		}()
		fn(s.ctx)
	}()
}

// Active returns the number of currently running tasks.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Shutdown cancels all tasks and waits up to timeout for them to
// finish. Returns false if the wait timed out.
func (s *Supervisor) Shutdown(timeout time.Duration) bool {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.logger.Warn("shutdown timed out with tasks still running", "active", s.Active())
		return false
	}
}
