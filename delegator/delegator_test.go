package delegator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskmesh/circuitbreaker"
	"github.com/BaSui01/taskmesh/memory"
	"github.com/BaSui01/taskmesh/registry"
	"github.com/BaSui01/taskmesh/types"
)

var errAgentFailed = errors.New("agent failed")

type fixture struct {
	registry  *registry.InMemoryRegistry
	store     *memory.InMemoryStore
	breakers  *circuitbreaker.Group
	delegator *Delegator
}

func newFixture(t *testing.T, executor AgentExecutor, cfg *Config, breakerCfg *circuitbreaker.Config) *fixture {
	t.Helper()

	reg := registry.NewInMemoryRegistry(nil, nil)
	store := memory.NewInMemoryStore(nil, nil)
	breakers := circuitbreaker.NewGroup(breakerCfg, nil)
	d := NewDelegator(reg, store, breakers, executor, cfg, nil, nil)
	t.Cleanup(func() { _ = d.Close() })

	return &fixture{registry: reg, store: store, breakers: breakers, delegator: d}
}

func registerAgent(t *testing.T, reg *registry.InMemoryRegistry, id string, role types.Role, caps ...string) {
	t.Helper()
	require.NoError(t, reg.Register(context.Background(), &types.AgentDescriptor{
		ID:           id,
		Role:         role,
		Capabilities: caps,
	}))
}

func engineerTask(id string) *types.Task {
	return &types.Task{
		ID:                   id,
		Role:                 types.RoleEngineer,
		Description:          "implement the rate limiter",
		RequiredCapabilities: []string{"debugging"},
	}
}

// --- Happy path ---

func TestDelegate_Success(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		return "done", "rate limiter implemented", nil
	})
	f := newFixture(t, executor, nil, nil)
	registerAgent(t, f.registry, "eng-1", types.RoleEngineer, "debugging")

	result, err := f.delegator.Delegate(context.Background(), engineerTask("t-1"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, types.TaskCompleted, result.State)
	assert.Equal(t, "eng-1", result.AgentID)
	assert.Equal(t, "done", result.Output)
	assert.False(t, result.StartedAt.IsZero())
	assert.False(t, result.CompletedAt.IsZero())
}

func TestDelegate_WritesPatternRecordOnSuccess(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		return nil, "used token bucket", nil
	})
	f := newFixture(t, executor, nil, nil)
	registerAgent(t, f.registry, "eng-1", types.RoleEngineer, "debugging")

	_, err := f.delegator.Delegate(context.Background(), engineerTask("t-1"))
	require.NoError(t, err)
	require.NoError(t, f.delegator.Close())

	records, err := f.store.Retrieve(context.Background(), memory.Query{
		Categories: []types.MemoryCategory{types.MemoryPattern},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "used token bucket", records[0].Content)
	assert.Equal(t, "t-1", records[0].Metadata["task_id"])
	assert.Equal(t, "eng-1", records[0].Metadata["agent_id"])
}

func TestDelegate_WritesErrorRecordOnFailure(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		return nil, "", errAgentFailed
	})
	f := newFixture(t, executor, nil, nil)
	registerAgent(t, f.registry, "eng-1", types.RoleEngineer, "debugging")

	result, err := f.delegator.Delegate(context.Background(), engineerTask("t-1"))
	require.ErrorIs(t, err, errAgentFailed)
	assert.Equal(t, types.TaskFailed, result.State)

	require.NoError(t, f.delegator.Close())

	records, rerr := f.store.Retrieve(context.Background(), memory.Query{
		Categories: []types.MemoryCategory{types.MemoryError},
	})
	require.NoError(t, rerr)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Content, "failed")
}

// --- Pre-dispatch failures ---

func TestDelegate_InvalidTask(t *testing.T) {
	f := newFixture(t, ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		return nil, "", nil
	}), nil, nil)

	_, err := f.delegator.Delegate(context.Background(), &types.Task{Role: types.RoleEngineer})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestDelegate_NoAgentAvailable(t *testing.T) {
	f := newFixture(t, ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		return nil, "", nil
	}), nil, nil)
	registerAgent(t, f.registry, "qa-1", types.RoleQA, "testing")

	result, err := f.delegator.Delegate(context.Background(), engineerTask("t-1"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, types.IsCode(err, types.ErrNoAgentAvailable))
}

// --- Enrichment ---

func TestDelegate_EnrichesContextFromMemory(t *testing.T) {
	var seen map[string]any
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		seen = task.Context
		return nil, "", nil
	})
	f := newFixture(t, executor, nil, nil)
	registerAgent(t, f.registry, "eng-1", types.RoleEngineer, "debugging")

	_, err := f.store.Store(context.Background(), &types.MemoryRecord{
		Category: types.MemoryPattern,
		Content:  "rate limiter: prefer token bucket over sliding window",
		Tags:     []string{"debugging"},
	})
	require.NoError(t, err)

	task := engineerTask("t-1")
	_, err = f.delegator.Delegate(context.Background(), task)
	require.NoError(t, err)

	require.Contains(t, seen, ContextKeyMemoryHints)
	hints := seen[ContextKeyMemoryHints].([]string)
	require.Len(t, hints, 1)
	assert.Contains(t, hints[0], "token bucket")

	// The caller's task must stay untouched.
	assert.NotContains(t, task.Context, ContextKeyMemoryHints)
}

func TestDelegate_EnrichmentFailureIsNonFatal(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		return "ok", "", nil
	})

	reg := registry.NewInMemoryRegistry(nil, nil)
	breakers := circuitbreaker.NewGroup(nil, nil)
	d := NewDelegator(reg, failingStore{}, breakers, executor, nil, nil, nil)
	t.Cleanup(func() { _ = d.Close() })
	registerAgent(t, reg, "eng-1", types.RoleEngineer, "debugging")

	result, err := d.Delegate(context.Background(), engineerTask("t-1"))
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, result.State)
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Store(ctx context.Context, record *types.MemoryRecord) (string, error) {
	return "", types.NewError(types.ErrMemoryBackend, "store down")
}

func (failingStore) Retrieve(ctx context.Context, query memory.Query) ([]*types.MemoryRecord, error) {
	return nil, types.NewError(types.ErrMemoryBackend, "store down")
}

func (failingStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	return nil, types.NewError(types.ErrMemoryBackend, "store down")
}

func (failingStore) Delete(ctx context.Context, id string) error {
	return types.NewError(types.ErrMemoryBackend, "store down")
}

func (failingStore) Evict(ctx context.Context) error {
	return types.NewError(types.ErrMemoryBackend, "store down")
}

func (failingStore) Size(ctx context.Context) (int, error) {
	return 0, types.NewError(types.ErrMemoryBackend, "store down")
}

func (failingStore) Close() error { return nil }

// countingStore counts how often the backend is actually contacted.
type countingStore struct {
	failingStore
	calls atomic.Int64
}

func (s *countingStore) Store(ctx context.Context, record *types.MemoryRecord) (string, error) {
	s.calls.Add(1)
	return s.failingStore.Store(ctx, record)
}

func (s *countingStore) Retrieve(ctx context.Context, query memory.Query) ([]*types.MemoryRecord, error) {
	s.calls.Add(1)
	return s.failingStore.Retrieve(ctx, query)
}

func TestDelegate_MemoryBreakerShieldsFailingBackend(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		return "ok", "", nil
	})
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = 3

	reg := registry.NewInMemoryRegistry(nil, nil)
	breakers := circuitbreaker.NewGroup(breakerCfg, nil)
	store := &countingStore{}
	d := NewDelegator(reg, store, breakers, executor, nil, nil, nil)
	t.Cleanup(func() { _ = d.Close() })
	registerAgent(t, reg, "eng-1", types.RoleEngineer, "debugging")

	for i := 0; i < 10; i++ {
		result, err := d.Delegate(context.Background(), engineerTask("t-1"))
		require.NoError(t, err)
		assert.Equal(t, types.TaskCompleted, result.State)
		// Drain the asynchronous outcome write before the next round.
		require.NoError(t, d.Close())
	}

	// Retrieve, store, retrieve opens the breaker; everything after is
	// rejected without touching the backend.
	assert.Equal(t, int64(3), store.calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, breakers.State(memoryBreakerKey))
}

// --- Circuit breaking and failover ---

func TestDelegate_FailsOverPastOpenBreaker(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		if agent.ID == "eng-a" {
			return nil, "", errAgentFailed
		}
		return "ok", "", nil
	})
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = 1
	f := newFixture(t, executor, nil, breakerCfg)

	registerAgent(t, f.registry, "eng-a", types.RoleEngineer, "debugging")
	registerAgent(t, f.registry, "eng-b", types.RoleEngineer, "debugging")

	// First delegation binds eng-a, fails, and opens its breaker.
	result, err := f.delegator.Delegate(context.Background(), engineerTask("t-1"))
	require.ErrorIs(t, err, errAgentFailed)
	require.Equal(t, "eng-a", result.AgentID)
	require.Equal(t, circuitbreaker.StateOpen, f.breakers.State("eng-a"))

	// Second delegation skips eng-a and lands on eng-b.
	result, err = f.delegator.Delegate(context.Background(), engineerTask("t-2"))
	require.NoError(t, err)
	assert.Equal(t, "eng-b", result.AgentID)
	assert.Equal(t, types.TaskCompleted, result.State)
}

func TestDelegate_AllAgentsUnavailable(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		return nil, "", errAgentFailed
	})
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = 1
	f := newFixture(t, executor, nil, breakerCfg)
	registerAgent(t, f.registry, "eng-1", types.RoleEngineer, "debugging")

	_, err := f.delegator.Delegate(context.Background(), engineerTask("t-1"))
	require.ErrorIs(t, err, errAgentFailed)

	result, err := f.delegator.Delegate(context.Background(), engineerTask("t-2"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, types.IsCode(err, types.ErrAllAgentsUnavailable))
	assert.True(t, types.IsRetryable(err))
}

func TestDelegate_BoundFailureDoesNotFailOver(t *testing.T) {
	calls := 0
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		calls++
		return nil, "", errAgentFailed
	})
	f := newFixture(t, executor, nil, nil)
	registerAgent(t, f.registry, "eng-a", types.RoleEngineer, "debugging")
	registerAgent(t, f.registry, "eng-b", types.RoleEngineer, "debugging")

	_, err := f.delegator.Delegate(context.Background(), engineerTask("t-1"))
	require.ErrorIs(t, err, errAgentFailed)
	assert.Equal(t, 1, calls, "a bound agent's failure must not cascade to other agents")
}

// --- Timeout ---

func TestDelegate_Timeout(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		select {
		case <-time.After(time.Second):
			return "late", "", nil
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	})
	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = 1
	f := newFixture(t, executor, nil, breakerCfg)
	registerAgent(t, f.registry, "eng-1", types.RoleEngineer, "debugging")

	task := engineerTask("t-1")
	task.Timeout = 20 * time.Millisecond

	result, err := f.delegator.Delegate(context.Background(), task)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTimeout))
	assert.Equal(t, types.TaskTimedOut, result.State)

	// Timeouts count against the agent's breaker.
	assert.Equal(t, circuitbreaker.StateOpen, f.breakers.State("eng-1"))
}

func TestDelegate_Cancellation(t *testing.T) {
	executor := ExecutorFunc(func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
		<-ctx.Done()
		return nil, "", ctx.Err()
	})
	f := newFixture(t, executor, nil, nil)
	registerAgent(t, f.registry, "eng-1", types.RoleEngineer, "debugging")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := f.delegator.Delegate(ctx, engineerTask("t-1"))
	require.Error(t, err)
	assert.Equal(t, types.TaskCancelled, result.State)
}
