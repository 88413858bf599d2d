package circuitbreaker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Group manages one breaker per target key, created lazily on first use.
type Group struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	config *Config
	logger *zap.Logger
}

// NewGroup creates a breaker group. Every breaker shares the same config.
func NewGroup(config *Config, logger *zap.Logger) *Group {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Group{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// Call runs fn through the target's breaker.
func (g *Group) Call(ctx context.Context, target string, fn func(ctx context.Context) error) error {
	return g.breaker(target).Call(ctx, fn)
}

// State returns the target's breaker state. An unused target reads closed.
func (g *Group) State(target string) State {
	g.mu.RLock()
	b, ok := g.breakers[target]
	g.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}

// OpenCount returns the number of breakers currently open.
func (g *Group) OpenCount() int {
	g.mu.RLock()
	targets := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		targets = append(targets, b)
	}
	g.mu.RUnlock()

	n := 0
	for _, b := range targets {
		if b.State() == StateOpen {
			n++
		}
	}
	return n
}

// breaker returns the target's breaker, creating it on first use.
func (g *Group) breaker(target string) *Breaker {
	g.mu.RLock()
	b, ok := g.breakers[target]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[target]; ok {
		return b
	}
	b = NewBreaker(target, g.config, g.logger)
	g.breakers[target] = b
	return b
}
