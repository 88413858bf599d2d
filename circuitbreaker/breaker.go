package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskmesh/types"
)

// State is the breaker state.
type State int

const (
	// StateClosed admits all calls and counts failures.
	StateClosed State = iota
	// StateOpen rejects all calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config holds circuit breaker settings.
type Config struct {
	// FailureThreshold is the number of failures inside Window that opens
	// the breaker.
	FailureThreshold int

	// Window is the rolling failure-counting window.
	Window time.Duration

	// RecoveryTimeout is the open to half-open cooldown.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent trial calls in half-open.
	HalfOpenMaxCalls int

	// SuccessThreshold is the number of trial successes that closes the
	// breaker.
	SuccessThreshold int

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time

	// OnStateChange, if set, is invoked after every state transition.
	OnStateChange func(target string, from, to State)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 3,
	}
}

func (c *Config) normalize() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.SuccessThreshold > c.HalfOpenMaxCalls {
		c.HalfOpenMaxCalls = c.SuccessThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Breaker is a circuit breaker for a single target.
type Breaker struct {
	target string
	config *Config
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failures          []time.Time
	openedAt          time.Time
	halfOpenCalls     int
	halfOpenSuccesses int
}

// NewBreaker creates a closed breaker for the target.
func NewBreaker(target string, config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		target: target,
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("target", target)),
	}
}

// Call runs fn through the breaker. An open breaker fails fast with
// CIRCUIT_OPEN without invoking fn. Any error from fn counts as a failure.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

// State returns the breaker's current state, applying the open to half-open
// transition when the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	return b.state
}

// allow reserves a call slot or fails fast.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeRecoverLocked()

	switch b.state {
	case StateOpen:
		return types.NewCircuitOpenError(b.target)
	case StateHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return types.NewCircuitOpenError(b.target)
		}
		b.halfOpenCalls++
	}
	return nil
}

// record applies a call outcome.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			return
		}
		now := b.config.Now()
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}

	case StateHalfOpen:
		if !success {
			// One trial failure reopens immediately.
			b.transitionLocked(StateOpen)
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}

	case StateOpen:
		// A call admitted before the breaker opened finished late. Its
		// outcome no longer matters.
	}
}

// maybeRecoverLocked moves an open breaker to half-open once the recovery
// timeout has elapsed. Caller holds the lock.
func (b *Breaker) maybeRecoverLocked() {
	if b.state == StateOpen && b.config.Now().Sub(b.openedAt) >= b.config.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
	}
}

// pruneLocked drops failures that fell out of the rolling window.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// transitionLocked applies a state change. Caller holds the lock.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	switch to {
	case StateOpen:
		b.openedAt = b.config.Now()
	case StateHalfOpen:
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
	case StateClosed:
		b.failures = b.failures[:0]
	}

	b.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.target, from, to)
	}
}
