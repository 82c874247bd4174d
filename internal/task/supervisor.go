// Package task runs supervised background work. Every task failure or panic
// is logged with its job id and counted; nothing is fire-and-forget.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrShuttingDown is returned by Go once Shutdown has started.
var ErrShuttingDown = errors.New("task: supervisor is shutting down")

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Supervisor owns background goroutines detached from request lifetimes.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	failures atomic.Int64
	running  atomic.Int64
}

// NewSupervisor creates a supervisor. Tasks receive a context that is
// cancelled when Shutdown gives up waiting.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts fn in the background. name and jobID label log lines.
func (s *Supervisor) Go(name, jobID string, fn Func) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.running.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Add(-1)

		if err := s.run(fn); err != nil {
			s.failures.Add(1)
			s.logger.Error("background task failed",
				slog.String("task", name),
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

func (s *Supervisor) run(fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(s.ctx)
}

// Running returns the number of tasks in flight.
func (s *Supervisor) Running() int64 {
	return s.running.Load()
}

// Failures returns how many tasks have failed since start.
func (s *Supervisor) Failures() int64 {
	return s.failures.Load()
}

// Shutdown stops accepting tasks and waits for running ones. If ctx ends
// first, task contexts are cancelled and ctx.Err() is returned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
