package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the sweep cadence.
const DefaultSchedule = "@every 60s"

// Sweeper runs one reconciliation pass and reports how many jobs are still
// in progress.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler owns the recurring sweep. It starts disarmed; Arm schedules
// sweeps and a sweep that leaves no job in progress disarms it again, so an idle
// process does not poll.
//
// The armed flag is process-local. Multi-instance deployments must run the
// scheduler on one designated instance.
type Scheduler struct {
	sweeper  Sweeper
	schedule cron.Schedule
	clock    clockwork.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	armed      bool
	generation uint64
	wake       chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock sets the clock driving the sweep timer.
func WithSchedulerClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates a scheduler for a standard cron spec, including
// descriptors such as "@every 60s".
func NewScheduler(sweeper Sweeper, spec string, opts ...SchedulerOption) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", spec, err)
	}

	s := &Scheduler{
		sweeper:  sweeper,
		schedule: schedule,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs the scheduling loop until Stop is called.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(ctx)
	}()
}

// Stop ends the loop and waits for an in-flight sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Arm schedules sweeps. It is cheap and safe to call on every submission.
func (s *Scheduler) Arm() {
	s.mu.Lock()
	s.generation++
	wasArmed := s.armed
	s.armed = true
	s.mu.Unlock()

	if !wasArmed {
		s.logger.Debug("reconciler armed")
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Disarm stops scheduling sweeps until the next Arm.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	s.armed = false
	s.mu.Unlock()
}

// Armed reports whether sweeps are scheduled.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		s.mu.Lock()
		armed := s.armed
		s.mu.Unlock()

		if !armed {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		now := s.clock.Now()
		timer := s.clock.NewTimer(s.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		s.mu.Lock()
		armed, gen := s.armed, s.generation
		s.mu.Unlock()
		if !armed {
			continue
		}

		remaining, err := s.sweeper.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("reconcile sweep failed", slog.String("error", err.Error()))
			continue
		}
		if remaining == 0 {
			s.disarmIfIdle(gen)
		}
	}
}

// disarmIfIdle disarms unless Arm was called since the sweep started.
func (s *Scheduler) disarmIfIdle(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.armed = false
	s.logger.Debug("no jobs in progress, reconciler disarmed")
}
