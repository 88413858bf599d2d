package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/taskmesh/circuitbreaker"
	"github.com/BaSui01/taskmesh/config"
	"github.com/BaSui01/taskmesh/delegator"
	"github.com/BaSui01/taskmesh/internal/metrics"
	"github.com/BaSui01/taskmesh/memory"
	"github.com/BaSui01/taskmesh/registry"
	"github.com/BaSui01/taskmesh/types"
	"github.com/BaSui01/taskmesh/workflow"
)

// Health is a point-in-time snapshot of the engine's components.
type Health struct {
	RegisteredAgents int  `json:"registered_agents"`
	OpenCircuits     int  `json:"open_circuits"`
	MemoryRecords    int  `json:"memory_records"`
	ActiveWorkflows  int  `json:"active_workflows"`
	Healthy          bool `json:"healthy"`
}

// Stats counts work accepted since the orchestrator started.
type Stats struct {
	TasksSubmitted     uint64 `json:"tasks_submitted"`
	WorkflowsSubmitted uint64 `json:"workflows_submitted"`
	WorkflowsFinished  uint64 `json:"workflows_finished"`
}

// run tracks one workflow run from submission to retention expiry.
type run struct {
	cancel     context.CancelFunc
	done       chan struct{}
	result     *types.WorkflowResult
	finishedAt time.Time
}

// Orchestrator wires the engine's components together and exposes the
// public operations.
type Orchestrator struct {
	registry  registry.Registry
	store     memory.Store
	breakers  *circuitbreaker.Group
	delegator *delegator.Delegator
	engine    *workflow.Engine

	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	runs   map[string]*run
	closed bool

	tasksSubmitted     atomic.Uint64
	workflowsSubmitted atomic.Uint64
	workflowsFinished  atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds an orchestrator from configuration. The executor is how the
// engine hands tasks to concrete agents; everything else is constructed
// here: the registry, the configured memory backend, the breaker group,
// the delegator and the workflow engine.
func New(cfg *config.Config, executor delegator.AgentExecutor, m *metrics.Metrics, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if executor == nil {
		return nil, types.NewValidationError("agent executor is nil")
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := registry.NewInMemoryRegistry(&registry.Config{
		HeartbeatInterval: cfg.Registry.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Registry.HeartbeatTimeout,
		SweepInterval:     cfg.Registry.SweepInterval,
		RemoveAfter:       cfg.Registry.RemoveAfter,
	}, logger)

	breakers := circuitbreaker.NewGroup(&circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OnStateChange: func(target string, from, to circuitbreaker.State) {
			m.BreakerTransitions.WithLabelValues(to.String()).Inc()
		},
	}, logger)

	d := delegator.NewDelegator(reg, store, breakers, executor, &delegator.Config{
		DefaultTimeout:     cfg.Delegator.DefaultTimeout,
		MemoryWriteTimeout: cfg.Delegator.MemoryWriteTimeout,
		EnrichmentLimit:    cfg.Delegator.EnrichmentLimit,
		RateLimit:          cfg.Delegator.RateLimit,
		RateBurst:          cfg.Delegator.RateBurst,
	}, m, logger)

	engine := workflow.NewEngine(d, &workflow.Config{
		MaxConcurrency: cfg.Workflow.MaxConcurrency,
	}, m, logger)

	return &Orchestrator{
		registry:  reg,
		store:     store,
		breakers:  breakers,
		delegator: d,
		engine:    engine,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With(zap.String("component", "orchestrator")),
		now:       time.Now,
		runs:      make(map[string]*run),
		done:      make(chan struct{}),
	}, nil
}

// buildStore constructs the configured memory backend.
func buildStore(cfg *config.Config, logger *zap.Logger) (memory.Store, error) {
	storeCfg := &memory.Config{
		MaxRecords:      cfg.Memory.MaxRecords,
		TTL:             cfg.Memory.TTL,
		JanitorInterval: cfg.Memory.JanitorInterval,
	}

	switch cfg.Memory.Backend {
	case "", "inmemory":
		return memory.NewInMemoryStore(storeCfg, logger), nil
	case "redis":
		return memory.NewRedisStore(memory.RedisOptions{
			Addr:         cfg.Memory.Redis.Addr,
			Password:     cfg.Memory.Redis.Password,
			DB:           cfg.Memory.Redis.DB,
			PoolSize:     cfg.Memory.Redis.PoolSize,
			MinIdleConns: cfg.Memory.Redis.MinIdleConns,
		}, storeCfg, logger), nil
	case "sqlite":
		return memory.NewSQLiteStore(cfg.Memory.SQLitePath, storeCfg, logger)
	}
	return nil, types.NewValidationError("unknown memory backend: " + cfg.Memory.Backend)
}

// Start launches the background loops: registry liveness sweep, memory
// janitor and run retention sweep.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.registry.Start(ctx); err != nil {
		return err
	}
	if s, ok := o.store.(*memory.InMemoryStore); ok {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		interval := o.cfg.Orchestrator.RunRetention / 4
		if interval <= 0 || interval > time.Minute {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-o.done:
				return
			case <-ticker.C:
				o.sweepRuns()
			}
		}
	}()

	o.logger.Info("orchestrator started",
		zap.String("memory_backend", o.cfg.Memory.Backend),
		zap.Int("workflow_max_concurrency", o.cfg.Workflow.MaxConcurrency),
	)
	return nil
}

// RegisterAgent adds an agent to the registry.
func (o *Orchestrator) RegisterAgent(ctx context.Context, desc *types.AgentDescriptor) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if err := o.registry.Register(ctx, desc); err != nil {
		return err
	}
	o.metrics.AgentsRegistered.Set(float64(o.registry.Size()))
	return nil
}

// DeregisterAgent removes an agent from the registry.
func (o *Orchestrator) DeregisterAgent(ctx context.Context, id string) error {
	if err := o.registry.Deregister(ctx, id); err != nil {
		return err
	}
	o.metrics.AgentsRegistered.Set(float64(o.registry.Size()))
	return nil
}

// Heartbeat refreshes an agent's liveness.
func (o *Orchestrator) Heartbeat(ctx context.Context, id string) error {
	return o.registry.Heartbeat(ctx, id)
}

// Memory returns the engine's memory store for direct seeding and queries.
func (o *Orchestrator) Memory() memory.Store {
	return o.store
}

// SubmitTask delegates a single task and blocks until it reaches a
// terminal state.
func (o *Orchestrator) SubmitTask(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}
	o.tasksSubmitted.Add(1)

	if task != nil && task.ID == "" {
		task = task.Clone()
		task.ID = uuid.NewString()
	}
	return o.delegator.Delegate(ctx, task)
}

// SubmitWorkflow validates the spec and starts it asynchronously, returning
// the run id. Progress is observed via AwaitWorkflow and WorkflowResult.
func (o *Orchestrator) SubmitWorkflow(ctx context.Context, spec *types.WorkflowSpec) (string, error) {
	if err := o.checkOpen(); err != nil {
		return "", err
	}
	if err := workflow.Validate(spec); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.runs[runID] = r
	o.mu.Unlock()

	o.workflowsSubmitted.Add(1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		result, err := o.engine.ExecuteRun(runCtx, runID, spec)
		if err != nil {
			// Validation already passed; treat a late error as a failed run.
			result = &types.WorkflowResult{
				RunID:  runID,
				Name:   spec.Name,
				Status: types.WorkflowFailed,
				Nodes:  map[string]types.NodeResult{},
			}
			o.logger.Error("workflow run errored", zap.String("run_id", runID), zap.Error(err))
		}

		o.mu.Lock()
		r.result = result
		r.finishedAt = o.now()
		o.mu.Unlock()

		o.workflowsFinished.Add(1)
		close(r.done)
	}()

	return runID, nil
}

// AwaitWorkflow blocks until the run finishes or ctx is done.
func (o *Orchestrator) AwaitWorkflow(ctx context.Context, runID string) (*types.WorkflowResult, error) {
	o.mu.Lock()
	r, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return nil, types.NewError(types.ErrWorkflowNotFound, "unknown workflow run").WithTarget(runID)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return r.result, nil
}

// WorkflowResult returns the run's result, or a running placeholder while
// the run is still in flight.
func (o *Orchestrator) WorkflowResult(runID string) (*types.WorkflowResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	r, ok := o.runs[runID]
	if !ok {
		return nil, types.NewError(types.ErrWorkflowNotFound, "unknown workflow run").WithTarget(runID)
	}
	if r.result == nil {
		return &types.WorkflowResult{RunID: runID, Status: types.WorkflowRunning}, nil
	}
	return r.result, nil
}

// CancelWorkflow cancels a running workflow. Cancelling a finished run is
// a no-op.
func (o *Orchestrator) CancelWorkflow(runID string) error {
	o.mu.Lock()
	r, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return types.NewError(types.ErrWorkflowNotFound, "unknown workflow run").WithTarget(runID)
	}

	r.cancel()
	return nil
}

// HealthCheck snapshots component health.
func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	h := Health{
		RegisteredAgents: o.registry.Size(),
		OpenCircuits:     o.breakers.OpenCount(),
		ActiveWorkflows:  o.activeRuns(),
	}

	records, err := o.store.Size(ctx)
	if err != nil {
		o.logger.Warn("memory store health check failed", zap.Error(err))
		h.Healthy = false
		return h
	}
	h.MemoryRecords = records
	h.Healthy = true
	return h
}

// Stats returns submission counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		TasksSubmitted:     o.tasksSubmitted.Load(),
		WorkflowsSubmitted: o.workflowsSubmitted.Load(),
		WorkflowsFinished:  o.workflowsFinished.Load(),
	}
}

// Close stops accepting work, cancels in-flight workflows, drains pending
// memory writebacks and shuts the components down.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	for _, r := range o.runs {
		r.cancel()
	}
	o.mu.Unlock()

	o.closeOnce.Do(func() {
		close(o.done)
	})
	o.wg.Wait()

	if err := o.delegator.Close(); err != nil {
		return err
	}
	if err := o.registry.Close(); err != nil {
		return err
	}
	if err := o.store.Close(); err != nil {
		return err
	}

	o.logger.Info("orchestrator closed")
	return nil
}

// checkOpen rejects work after Close.
func (o *Orchestrator) checkOpen() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return types.NewError(types.ErrOrchestratorClosed, "orchestrator is closed")
	}
	return nil
}

// activeRuns counts unfinished workflow runs.
func (o *Orchestrator) activeRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, r := range o.runs {
		if r.result == nil {
			n++
		}
	}
	return n
}

// sweepRuns drops finished runs older than the retention period.
func (o *Orchestrator) sweepRuns() {
	cutoff := o.now().Add(-o.cfg.Orchestrator.RunRetention)

	o.mu.Lock()
	defer o.mu.Unlock()

	for id, r := range o.runs {
		if r.result != nil && r.finishedAt.Before(cutoff) {
			delete(o.runs, id)
		}
	}
}
