package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskmesh/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errAgentDown = errors.New("agent down")

func failing(ctx context.Context) error { return errAgentDown }
func succeeding(ctx context.Context) error { return nil }

func newTestBreaker(clock *fakeClock, threshold int, recovery time.Duration) *Breaker {
	cfg := DefaultConfig()
	cfg.FailureThreshold = threshold
	cfg.RecoveryTimeout = recovery
	cfg.Now = clock.Now
	return NewBreaker("agent-1", cfg, nil)
}

// --- Closed state ---

func TestBreaker_StartsClosed(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 3, time.Second)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(context.Background(), succeeding))
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Equal(t, StateClosed, b.State())
		require.ErrorIs(t, b.Call(ctx, failing), errAgentDown)
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpenFailsFast(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, failing)
	}

	invoked := false
	err := b.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCircuitOpen))
	assert.True(t, types.IsRetryable(err))
	assert.False(t, invoked, "an open breaker must not invoke the call")
}

func TestBreaker_WindowForgetsOldFailures(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.Window = 10 * time.Second
	cfg.Now = clock.Now
	b := NewBreaker("agent-1", cfg, nil)
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)

	// The first two failures age out of the window.
	clock.Advance(11 * time.Second)

	_ = b.Call(ctx, failing)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessDoesNotResetWindow(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 3, time.Second)
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	require.NoError(t, b.Call(ctx, succeeding))
	_ = b.Call(ctx, failing)

	// Three failures in the window; the interleaved success changes nothing.
	assert.Equal(t, StateOpen, b.State())
}

// --- Recovery ---

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, failing)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.RecoveryTimeout = time.Second
	cfg.SuccessThreshold = 2
	cfg.HalfOpenMaxCalls = 2
	cfg.Now = clock.Now
	b := NewBreaker("agent-1", cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, failing)
	}
	clock.Advance(time.Second)

	require.NoError(t, b.Call(ctx, succeeding))
	require.NoError(t, b.Call(ctx, succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, failing)
	}
	clock.Advance(time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.ErrorIs(t, b.Call(ctx, failing), errAgentDown)
	assert.Equal(t, StateOpen, b.State())

	// The reopened breaker needs a fresh recovery timeout.
	err := b.Call(ctx, succeeding)
	assert.True(t, types.IsCode(err, types.ErrCircuitOpen))
	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenBoundsTrialCalls(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.RecoveryTimeout = time.Second
	cfg.HalfOpenMaxCalls = 1
	cfg.SuccessThreshold = 1
	cfg.Now = clock.Now
	b := NewBreaker("agent-1", cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, failing)
	}
	clock.Advance(time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Call(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// The single half-open slot is taken; the second trial fails fast.
	err := b.Call(ctx, succeeding)
	assert.True(t, types.IsCode(err, types.ErrCircuitOpen))
	close(release)
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = time.Second
	cfg.SuccessThreshold = 1
	cfg.Now = clock.Now
	cfg.OnStateChange = func(target string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	b := NewBreaker("agent-1", cfg, nil)
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	clock.Advance(time.Second)
	require.NoError(t, b.Call(ctx, succeeding))

	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>closed"}, transitions)
}

// --- Group ---

func TestGroup_IsolatesTargets(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.Now = clock.Now
	g := NewGroup(cfg, nil)
	ctx := context.Background()

	_ = g.Call(ctx, "agent-1", failing)
	_ = g.Call(ctx, "agent-1", failing)

	assert.Equal(t, StateOpen, g.State("agent-1"))
	assert.Equal(t, StateClosed, g.State("agent-2"))
	assert.NoError(t, g.Call(ctx, "agent-2", succeeding))
	assert.Equal(t, 1, g.OpenCount())
}

func TestGroup_UnknownTargetReadsClosed(t *testing.T) {
	g := NewGroup(nil, nil)
	assert.Equal(t, StateClosed, g.State("never-called"))
	assert.Zero(t, g.OpenCount())
}

func TestGroup_ConcurrentCalls(t *testing.T) {
	g := NewGroup(nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			target := "agent-" + string(rune('a'+n%5))
			_ = g.Call(ctx, target, succeeding)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, g.OpenCount())
}
