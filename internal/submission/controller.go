// Package submission paces video submissions to providers that cap how many
// jobs may run at once.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/maauso/genstudio-api/internal/observability"
	"github.com/maauso/genstudio-api/internal/provider"
)

// ErrNoSlot is returned when no submission slot frees up within the wait ceiling.
var ErrNoSlot = errors.New("submission: no slot became available")

// Defaults.
const (
	DefaultMaxActive      = 2
	DefaultSpacing        = 2 * time.Second
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultJitterFraction = 0.2
	DefaultSlotPoll       = 5 * time.Second
	DefaultMaxSlotPoll    = 30 * time.Second
	DefaultMaxSlotWait    = 15 * time.Minute
)

// Controller keeps at most maxActive provider handles in flight. Submissions
// beyond that wait for a tracked handle to reach a terminal state.
type Controller struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	maxActive      int
	spacing        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	jitterFraction float64
	slotPoll       time.Duration
	maxSlotPoll    time.Duration
	maxSlotWait    time.Duration

	mu         sync.Mutex
	active     map[string]provider.Adapter
	reserved   int
	nextSubmit time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxActive sets how many handles may be in flight.
func WithMaxActive(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxActive = n
		}
	}
}

// WithSpacing sets the minimum delay between consecutive submissions.
func WithSpacing(d time.Duration) Option {
	return func(c *Controller) {
		c.spacing = d
	}
}

// WithRetry configures rate-limit retries: up to maxRetries retries starting
// at initial and doubling up to max.
func WithRetry(maxRetries int, initial, maxBackoff time.Duration) Option {
	return func(c *Controller) {
		c.maxRetries = maxRetries
		if initial > 0 {
			c.initialBackoff = initial
		}
		if maxBackoff > 0 {
			c.maxBackoff = maxBackoff
		}
	}
}

// WithJitter sets the fraction of each backoff that is randomized.
func WithJitter(fraction float64) Option {
	return func(c *Controller) {
		c.jitterFraction = fraction
	}
}

// WithSlotWait configures how often a full controller re-checks its handles
// and how long it waits in total for a slot.
func WithSlotWait(poll, maxPoll, maxWait time.Duration) Option {
	return func(c *Controller) {
		c.slotPoll = poll
		c.maxSlotPoll = maxPoll
		c.maxSlotWait = maxWait
	}
}

// WithClock sets the clock used for pacing.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithMetrics sets the metric recorders.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController creates a Controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		clock:          clockwork.NewRealClock(),
		logger:         slog.Default(),
		metrics:        observability.NewNoopMetrics(),
		maxActive:      DefaultMaxActive,
		spacing:        DefaultSpacing,
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		jitterFraction: DefaultJitterFraction,
		slotPoll:       DefaultSlotPoll,
		maxSlotPoll:    DefaultMaxSlotPoll,
		maxSlotWait:    DefaultMaxSlotWait,
		active:         make(map[string]provider.Adapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit waits for a free slot, spaces the call from the previous submission
// and submits. Rate-limit rejections are retried with backoff; every other
// error is returned at once. A returned handle occupies a slot until Release
// or until a later Submit sees it finished.
func (c *Controller) Submit(ctx context.Context, a provider.Adapter, req provider.Request) (provider.SubmitResult, error) {
	if err := c.acquire(ctx); err != nil {
		return provider.SubmitResult{}, err
	}

	res, err := c.submitWithRetry(ctx, a, req)

	c.mu.Lock()
	c.reserved--
	if err == nil && res.Handle != "" {
		c.active[res.Handle] = a
	}
	c.mu.Unlock()

	return res, err
}

// Release frees the slot held by handle.
func (c *Controller) Release(handle string) {
	c.mu.Lock()
	delete(c.active, handle)
	c.mu.Unlock()
}

// Active returns how many slots are taken.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active) + c.reserved
}

func (c *Controller) acquire(ctx context.Context) error {
	deadline := c.clock.Now().Add(c.maxSlotWait)
	interval := c.slotPoll

	for {
		if c.tryReserve() {
			return c.waitTurn(ctx)
		}

		c.evictFinished(ctx)
		if c.tryReserve() {
			return c.waitTurn(ctx)
		}

		if !c.clock.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrNoSlot, c.maxSlotWait)
		}
		c.logger.Debug("submission slots full, waiting",
			slog.Int("max_active", c.maxActive),
			slog.Duration("retry_in", interval),
		)
		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
		interval = min(interval*2, c.maxSlotPoll)
	}
}

func (c *Controller) tryReserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.active)+c.reserved >= c.maxActive {
		return false
	}
	c.reserved++
	return true
}

// waitTurn books the next submission time and sleeps until it.
func (c *Controller) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := c.clock.Now()
	at := c.nextSubmit
	if at.Before(now) {
		at = now
	}
	c.nextSubmit = at.Add(c.spacing)
	c.mu.Unlock()

	if err := c.sleep(ctx, at.Sub(now)); err != nil {
		c.mu.Lock()
		c.reserved--
		c.mu.Unlock()
		return err
	}
	return nil
}

// evictFinished polls every tracked handle and frees those that are terminal.
// Handles whose status cannot be read keep their slot.
func (c *Controller) evictFinished(ctx context.Context) {
	c.mu.Lock()
	handles := make(map[string]provider.Adapter, len(c.active))
	for h, a := range c.active {
		handles[h] = a
	}
	c.mu.Unlock()

	for h, a := range handles {
		res, err := a.Poll(ctx, h)
		if err != nil {
			c.logger.Warn("slot status check failed",
				slog.String("handle", h),
				slog.String("error", err.Error()),
			)
			continue
		}
		if res.State == provider.StateSucceeded || res.State == provider.StateFailed {
			c.Release(h)
		}
	}
}

func (c *Controller) submitWithRetry(ctx context.Context, a provider.Adapter, req provider.Request) (provider.SubmitResult, error) {
	backoff := c.initialBackoff

	for attempt := 0; ; attempt++ {
		res, err := a.Submit(ctx, req)
		c.metrics.RecordSubmission(ctx, a.Name(), string(req.Kind), err)
		if err == nil {
			return res, nil
		}
		if !provider.IsRateLimited(err) {
			return provider.SubmitResult{}, err
		}
		if attempt >= c.maxRetries {
			return provider.SubmitResult{}, fmt.Errorf("submission: rate limited after %d retries: %w", attempt, err)
		}

		c.metrics.RecordRateLimited(ctx, a.Name())
		wait := c.withJitter(backoff)
		c.logger.Warn("provider rate limited submission, backing off",
			slog.String("provider", a.Name()),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return provider.SubmitResult{}, err
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *Controller) withJitter(d time.Duration) time.Duration {
	if c.jitterFraction <= 0 {
		return d
	}
	jitter := time.Duration(float64(d) * c.jitterFraction * (rand.Float64()*2 - 1))
	if d+jitter < 0 {
		return d
	}
	return d + jitter
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}
