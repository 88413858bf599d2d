package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskmesh/types"
)

// Config holds configuration for the agent registry.
type Config struct {
	// HeartbeatInterval is the interval agents are expected to heartbeat at.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how stale a heartbeat may be before the agent is
	// marked unreachable and excluded from discovery.
	HeartbeatTimeout time.Duration

	// SweepInterval is the liveness sweep period. Clamped to
	// HeartbeatTimeout/2 so a dead agent is never reported live for a full
	// extra timeout.
	SweepInterval time.Duration

	// RemoveAfter is how long past its last heartbeat an agent is kept
	// before removal.
	RemoveAfter time.Duration

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		SweepInterval:     45 * time.Second,
		RemoveAfter:       3 * time.Minute,
	}
}

// Registry defines agent registration and discovery operations.
// Operations never block on agent behavior; they only mutate local state.
type Registry interface {
	// Register adds an agent. Re-registering an unchanged descriptor is an
	// idempotent no-op; an id collision with a different descriptor fails
	// with DUPLICATE_AGENT.
	Register(ctx context.Context, desc *types.AgentDescriptor) error

	// Heartbeat refreshes an agent's liveness. Fails with UNKNOWN_AGENT.
	Heartbeat(ctx context.Context, id string) error

	// Deregister removes an agent. Fails with UNKNOWN_AGENT.
	Deregister(ctx context.Context, id string) error

	// Discover returns live agents matching the role (if non-empty) and
	// carrying every listed capability, ordered most-recent heartbeat first.
	Discover(ctx context.Context, role types.Role, capabilities []string) ([]*types.AgentDescriptor, error)

	// Get returns a copy of the descriptor. Fails with UNKNOWN_AGENT.
	Get(ctx context.Context, id string) (*types.AgentDescriptor, error)

	// UpdateLiveness sets an agent's liveness state directly. Used by the
	// delegator to flag agents busy during dispatch.
	UpdateLiveness(ctx context.Context, id string, liveness types.Liveness) error

	// Size returns the number of registered agents.
	Size() int

	// Start launches the background liveness sweep.
	Start(ctx context.Context) error

	// Close stops the sweep.
	Close() error
}

// InMemoryRegistry is the default Registry implementation: RWMutex-protected
// in-process state with a background liveness sweep.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]*types.AgentDescriptor

	config *Config
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewInMemoryRegistry creates a new in-memory registry.
func NewInMemoryRegistry(config *Config, logger *zap.Logger) *InMemoryRegistry {
	if config == nil {
		config = DefaultConfig()
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = 90 * time.Second
	}
	if config.SweepInterval <= 0 || config.SweepInterval > config.HeartbeatTimeout/2 {
		config.SweepInterval = config.HeartbeatTimeout / 2
	}
	if config.RemoveAfter <= 0 {
		config.RemoveAfter = 2 * config.HeartbeatTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryRegistry{
		agents: make(map[string]*types.AgentDescriptor),
		config: config,
		logger: logger.With(zap.String("component", "agent_registry")),
		done:   make(chan struct{}),
	}
}

// Register implements Registry.Register.
func (r *InMemoryRegistry) Register(ctx context.Context, desc *types.AgentDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[desc.ID]; ok {
		if existing.Equal(desc) {
			// Idempotent re-registration.
			return nil
		}
		return types.NewError(types.ErrDuplicateAgent, "agent id already registered").WithTarget(desc.ID)
	}

	now := r.config.Now()
	stored := desc.Clone()
	stored.RegisteredAt = now
	stored.LastHeartbeat = now
	if stored.Liveness == "" {
		stored.Liveness = types.LivenessIdle
	}
	r.agents[stored.ID] = stored

	r.logger.Info("agent registered",
		zap.String("agent_id", stored.ID),
		zap.String("role", string(stored.Role)),
		zap.Int("capabilities", len(stored.Capabilities)),
	)

	return nil
}

// Heartbeat implements Registry.Heartbeat.
func (r *InMemoryRegistry) Heartbeat(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return types.NewError(types.ErrUnknownAgent, "agent not registered").WithTarget(id)
	}

	agent.LastHeartbeat = r.config.Now()
	if agent.Liveness == types.LivenessUnreachable {
		agent.Liveness = types.LivenessIdle
		r.logger.Info("agent recovered", zap.String("agent_id", id))
	}

	return nil
}

// Deregister implements Registry.Deregister.
func (r *InMemoryRegistry) Deregister(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return types.NewError(types.ErrUnknownAgent, "agent not registered").WithTarget(id)
	}
	delete(r.agents, id)

	r.logger.Info("agent deregistered", zap.String("agent_id", id))
	return nil
}

// Discover implements Registry.Discover.
func (r *InMemoryRegistry) Discover(ctx context.Context, role types.Role, capabilities []string) ([]*types.AgentDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.config.Now()
	matches := make([]*types.AgentDescriptor, 0)

	for _, agent := range r.agents {
		if agent.Liveness == types.LivenessUnreachable {
			continue
		}
		if now.Sub(agent.LastHeartbeat) > r.config.HeartbeatTimeout {
			continue
		}
		if role != "" && agent.Role != role {
			continue
		}
		if !agent.HasCapabilities(capabilities) {
			continue
		}
		matches = append(matches, agent.Clone())
	}

	// Most-recent heartbeat first; id breaks ties deterministically.
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].LastHeartbeat.Equal(matches[j].LastHeartbeat) {
			return matches[i].LastHeartbeat.After(matches[j].LastHeartbeat)
		}
		return matches[i].ID < matches[j].ID
	})

	return matches, nil
}

// Get implements Registry.Get.
func (r *InMemoryRegistry) Get(ctx context.Context, id string) (*types.AgentDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, types.NewError(types.ErrUnknownAgent, "agent not registered").WithTarget(id)
	}
	return agent.Clone(), nil
}

// UpdateLiveness implements Registry.UpdateLiveness.
func (r *InMemoryRegistry) UpdateLiveness(ctx context.Context, id string, liveness types.Liveness) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return types.NewError(types.ErrUnknownAgent, "agent not registered").WithTarget(id)
	}
	agent.Liveness = liveness
	return nil
}

// Size implements Registry.Size.
func (r *InMemoryRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Start implements Registry.Start: launches the liveness sweep loop.
func (r *InMemoryRegistry) Start(ctx context.Context) error {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()

	r.logger.Info("agent registry started",
		zap.Duration("sweep_interval", r.config.SweepInterval),
		zap.Duration("heartbeat_timeout", r.config.HeartbeatTimeout),
	)
	return nil
}

// Close implements Registry.Close.
func (r *InMemoryRegistry) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

// sweep marks agents unreachable past HeartbeatTimeout and removes them
// past RemoveAfter.
func (r *InMemoryRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.config.Now()
	for id, agent := range r.agents {
		stale := now.Sub(agent.LastHeartbeat)

		if stale > r.config.RemoveAfter {
			delete(r.agents, id)
			r.logger.Warn("agent removed after heartbeat timeout",
				zap.String("agent_id", id),
				zap.Duration("stale", stale),
			)
			continue
		}

		if stale > r.config.HeartbeatTimeout && agent.Liveness != types.LivenessUnreachable {
			agent.Liveness = types.LivenessUnreachable
			r.logger.Warn("agent marked unreachable",
				zap.String("agent_id", id),
				zap.Duration("stale", stale),
			)
		}
	}
}
