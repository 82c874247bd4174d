package submission

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/genstudio-api/internal/provider"
)

// videoAdapter hands out sequential handles. Submit errors are consumed
// from the front of errs; polls report pending unless a state was set.
type videoAdapter struct {
	submits atomic.Int32
	polls   atomic.Int32

	mu     sync.Mutex
	errs   []error
	states map[string]provider.State
}

func newVideoAdapter(errs ...error) *videoAdapter {
	return &videoAdapter{errs: errs, states: make(map[string]provider.State)}
}

func (a *videoAdapter) Name() string { return provider.NameKling }

func (a *videoAdapter) Submit(context.Context, provider.Request) (provider.SubmitResult, error) {
	n := a.submits.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return provider.SubmitResult{}, err
		}
	}
	return provider.SubmitResult{Handle: fmt.Sprintf("h-%d", n)}, nil
}

func (a *videoAdapter) Poll(_ context.Context, handle string) (provider.PollResult, error) {
	a.polls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.states[handle]; ok {
		return provider.PollResult{State: s}, nil
	}
	return provider.PollResult{State: provider.StatePending}, nil
}

func (a *videoAdapter) ExtractArtifactRef([]byte) (string, bool) { return "", false }

func (a *videoAdapter) finish(handle string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[handle] = provider.StateSucceeded
}

var videoReq = provider.Request{Kind: provider.KindImageToVideo, Model: "kling-v2-6"}

func rateLimited() error {
	return provider.NewError(provider.NameKling, http.StatusTooManyRequests, "too many requests")
}

func newTestController(clock clockwork.Clock, opts ...Option) *Controller {
	base := []Option{
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSpacing(0),
		WithJitter(0),
	}
	return NewController(append(base, opts...)...)
}

type submitResult struct {
	res provider.SubmitResult
	err error
}

func submitAsync(c *Controller, a provider.Adapter) <-chan submitResult {
	out := make(chan submitResult, 1)
	go func() {
		res, err := c.Submit(context.Background(), a, videoReq)
		out <- submitResult{res, err}
	}()
	return out
}

func TestController_ThirdSubmissionWaitsForSlot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	adapter := newVideoAdapter()
	c := newTestController(clock, WithMaxActive(2), WithSlotWait(5*time.Second, 30*time.Second, 15*time.Minute))

	for i := 0; i < 2; i++ {
		_, err := c.Submit(ctx, adapter, videoReq)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Active())

	third := submitAsync(c, adapter)

	// Both active jobs are still running, so the third request waits.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(2), adapter.submits.Load())
	assert.Equal(t, int32(2), adapter.polls.Load())

	adapter.finish("h-1")
	clock.Advance(5 * time.Second)

	res := <-third
	require.NoError(t, res.err)
	assert.Equal(t, "h-3", res.res.Handle)
	assert.Equal(t, 2, c.Active())
}

func TestController_ReleaseFreesSlot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	adapter := newVideoAdapter()
	c := newTestController(clock, WithMaxActive(1))

	res, err := c.Submit(context.Background(), adapter, videoReq)
	require.NoError(t, err)
	c.Release(res.Handle)
	assert.Zero(t, c.Active())

	_, err = c.Submit(context.Background(), adapter, videoReq)
	require.NoError(t, err)
	assert.Zero(t, adapter.polls.Load(), "a free slot needs no status checks")
}

func TestController_NoSlotWithinCeiling(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	adapter := newVideoAdapter()
	c := newTestController(clock, WithMaxActive(1), WithSlotWait(5*time.Second, 5*time.Second, 10*time.Second))

	_, err := c.Submit(ctx, adapter, videoReq)
	require.NoError(t, err)

	blocked := submitAsync(c, adapter)
	for i := 0; i < 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(5 * time.Second)
	}

	res := <-blocked
	assert.ErrorIs(t, res.err, ErrNoSlot)
	assert.Equal(t, 1, c.Active())
}

func TestController_RetriesRateLimits(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	adapter := newVideoAdapter(rateLimited(), rateLimited())
	c := newTestController(clock, WithRetry(5, 2*time.Second, time.Minute))

	done := submitAsync(c, adapter)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(4 * time.Second)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "h-3", res.res.Handle)
	assert.Equal(t, int32(3), adapter.submits.Load())
}

func TestController_RetryCeiling(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	adapter := newVideoAdapter(rateLimited(), rateLimited(), rateLimited())
	c := newTestController(clock, WithRetry(2, time.Second, time.Minute))

	done := submitAsync(c, adapter)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	res := <-done
	require.Error(t, res.err)
	assert.True(t, provider.IsRateLimited(res.err))
	assert.Equal(t, int32(3), adapter.submits.Load())
	assert.Zero(t, c.Active())
}

func TestController_OtherErrorsFailImmediately(t *testing.T) {
	adapter := newVideoAdapter(provider.NewError(provider.NameKling, http.StatusUnauthorized, "unauthorized"))
	c := newTestController(clockwork.NewFakeClock())

	_, err := c.Submit(context.Background(), adapter, videoReq)
	require.Error(t, err)
	assert.Equal(t, provider.CodeAuthError, provider.ClassifyError(err))
	assert.Equal(t, int32(1), adapter.submits.Load())
	assert.Zero(t, c.Active())
}

func TestController_SpacesSubmissions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	adapter := newVideoAdapter()
	c := newTestController(clock, WithSpacing(2*time.Second))

	_, err := c.Submit(ctx, adapter, videoReq)
	require.NoError(t, err)

	second := submitAsync(c, adapter)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), adapter.submits.Load())

	clock.Advance(2 * time.Second)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, int32(2), adapter.submits.Load())
}

func TestController_CancelledWhileWaiting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	adapter := newVideoAdapter()
	c := newTestController(clock, WithMaxActive(1))

	_, err := c.Submit(context.Background(), adapter, videoReq)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, adapter, videoReq)
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, c.Active())
}
