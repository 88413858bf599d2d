package delegator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/taskmesh/circuitbreaker"
	"github.com/BaSui01/taskmesh/internal/metrics"
	"github.com/BaSui01/taskmesh/memory"
	"github.com/BaSui01/taskmesh/registry"
	"github.com/BaSui01/taskmesh/types"
)

// ContextKeyMemoryHints is the task context key enrichment writes under.
const ContextKeyMemoryHints = "memory_hints"

// memoryBreakerKey is the breaker group key shared by all memory-backend
// calls, so a failing external backend is shielded the same way a failing
// agent is.
const memoryBreakerKey = "memory-backend"

// AgentExecutor hands a task to a concrete agent and returns its output.
// Implementations bridge to whatever runs the agent: an LLM call, an RPC,
// a local process.
type AgentExecutor interface {
	Execute(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (output any, summary string, err error)
}

// ExecutorFunc adapts a function to AgentExecutor.
type ExecutorFunc func(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error)

// Execute implements AgentExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) (any, string, error) {
	return f(ctx, agent, task)
}

// Config holds delegation settings.
type Config struct {
	// DefaultTimeout bounds a dispatch when the task carries no timeout.
	DefaultTimeout time.Duration

	// MemoryWriteTimeout bounds the asynchronous outcome writeback.
	MemoryWriteTimeout time.Duration

	// EnrichmentLimit is the number of memory records merged into the task
	// context before dispatch.
	EnrichmentLimit int

	// RateLimit throttles dispatches per second. 0 disables throttling.
	RateLimit float64

	// RateBurst is the rate limiter burst size.
	RateBurst int

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout:     5 * time.Minute,
		MemoryWriteTimeout: 5 * time.Second,
		EnrichmentLimit:    5,
	}
}

func (c *Config) normalize() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.MemoryWriteTimeout <= 0 {
		c.MemoryWriteTimeout = 5 * time.Second
	}
	if c.EnrichmentLimit < 0 {
		c.EnrichmentLimit = 0
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Delegator dispatches tasks to agents through circuit breakers.
type Delegator struct {
	registry registry.Registry
	store    memory.Store
	breakers *circuitbreaker.Group
	executor AgentExecutor

	config  *Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger

	// wg tracks in-flight memory writebacks so Close can drain them.
	wg sync.WaitGroup
}

// NewDelegator creates a delegator over the given collaborators. A nil
// metrics bundle disables scraping; a nil logger disables logging.
func NewDelegator(
	reg registry.Registry,
	store memory.Store,
	breakers *circuitbreaker.Group,
	executor AgentExecutor,
	config *Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Delegator {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	return &Delegator{
		registry: reg,
		store:    store,
		breakers: breakers,
		executor: executor,
		config:   config,
		limiter:  limiter,
		metrics:  m,
		tracer:   otel.Tracer("taskmesh/delegator"),
		logger:   logger.With(zap.String("component", "delegator")),
	}
}

// Delegate dispatches the task to the best available agent and returns the
// terminal result. Pre-dispatch failures (validation, no candidate agents,
// every breaker open) return a nil result with the error.
func (d *Delegator) Delegate(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "delegator.Delegate",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.role", string(task.Role)),
		),
	)
	defer span.End()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "rate limit wait cancelled")
			return nil, err
		}
	}

	candidates, err := d.registry.Discover(ctx, task.Role, task.RequiredCapabilities)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(candidates) == 0 {
		err := types.NewError(types.ErrNoAgentAvailable, "no live agent matches the task").
			WithTarget(string(task.Role))
		span.SetStatus(codes.Error, "no agent available")
		d.metrics.TasksTotal.WithLabelValues(string(types.TaskFailed)).Inc()
		return nil, err
	}

	enriched := d.enrich(ctx, task)

	result, err := d.dispatch(ctx, enriched, candidates)
	if err != nil && result == nil {
		span.RecordError(err)
		return nil, err
	}

	d.metrics.TasksTotal.WithLabelValues(string(result.State)).Inc()
	d.metrics.TaskDuration.WithLabelValues(string(task.Role)).Observe(result.Duration().Seconds())
	span.SetAttributes(
		attribute.String("task.state", string(result.State)),
		attribute.String("task.agent_id", result.AgentID),
	)
	if result.Err != nil {
		span.SetStatus(codes.Error, result.Err.Error())
	}

	d.writeOutcome(enriched, result)

	return result, result.Err
}

// Close drains pending memory writebacks.
func (d *Delegator) Close() error {
	d.wg.Wait()
	return nil
}

// enrich merges relevant pattern and error memory into the task context.
// Enrichment is best effort: a failing store never blocks dispatch, and the
// retrieval runs through the memory-backend breaker so a broken backend is
// not re-contacted on every task.
func (d *Delegator) enrich(ctx context.Context, task *types.Task) *types.Task {
	enriched := task.Clone()
	if d.store == nil || d.config.EnrichmentLimit == 0 {
		return enriched
	}

	var records []*types.MemoryRecord
	err := d.breakers.Call(ctx, memoryBreakerKey, func(ctx context.Context) error {
		var err error
		records, err = d.store.Retrieve(ctx, memory.Query{
			Categories: []types.MemoryCategory{types.MemoryPattern, types.MemoryError},
			Text:       task.Description,
			Tags:       task.RequiredCapabilities,
			Limit:      d.config.EnrichmentLimit,
		})
		return err
	})
	if err != nil {
		if types.IsCode(err, types.ErrCircuitOpen) {
			d.metrics.BreakerRejections.Inc()
			d.logger.Debug("skipping enrichment, memory backend circuit open",
				zap.String("task_id", task.ID),
			)
			return enriched
		}
		d.logger.Warn("memory enrichment failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		d.metrics.MemoryOps.WithLabelValues("retrieve", "error").Inc()
		return enriched
	}
	d.metrics.MemoryOps.WithLabelValues("retrieve", "ok").Inc()
	d.metrics.TaskEnrichmentRecords.Observe(float64(len(records)))

	if len(records) == 0 {
		return enriched
	}

	hints := make([]string, 0, len(records))
	for _, r := range records {
		hints = append(hints, fmt.Sprintf("[%s] %s", r.Category, r.Content))
	}
	if enriched.Context == nil {
		enriched.Context = make(map[string]any, 1)
	}
	enriched.Context[ContextKeyMemoryHints] = hints

	return enriched
}

// dispatch tries each candidate in order, skipping agents whose breaker is
// open. The first admitted candidate owns the outcome: its failure is the
// task's failure, not a reason to try the next agent.
func (d *Delegator) dispatch(ctx context.Context, task *types.Task, candidates []*types.AgentDescriptor) (*types.TaskResult, error) {
	for _, agent := range candidates {
		var result *types.TaskResult

		err := d.breakers.Call(ctx, agent.ID, func(ctx context.Context) error {
			result = d.execute(ctx, agent, task)
			return result.Err
		})

		if result == nil {
			// The breaker rejected the call without invoking it.
			if types.IsCode(err, types.ErrCircuitOpen) {
				d.metrics.BreakerRejections.Inc()
				d.logger.Debug("skipping agent with open breaker",
					zap.String("task_id", task.ID),
					zap.String("agent_id", agent.ID),
				)
				continue
			}
			return nil, err
		}

		return result, nil
	}

	return nil, types.NewError(types.ErrAllAgentsUnavailable, "every candidate agent's circuit is open").
		WithTarget(string(task.Role)).
		WithRetryable(true)
}

// execute runs the task on the agent under the task's timeout.
func (d *Delegator) execute(ctx context.Context, agent *types.AgentDescriptor, task *types.Task) *types.TaskResult {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = d.config.DefaultTimeout
	}

	result := &types.TaskResult{
		TaskID:    task.ID,
		AgentID:   agent.ID,
		StartedAt: d.config.Now(),
	}

	d.logger.Info("dispatching task",
		zap.String("task_id", task.ID),
		zap.String("agent_id", agent.ID),
		zap.String("role", string(task.Role)),
		zap.Duration("timeout", timeout),
	)

	if err := d.registry.UpdateLiveness(ctx, agent.ID, types.LivenessActive); err != nil {
		d.logger.Warn("failed to mark agent active", zap.String("agent_id", agent.ID), zap.Error(err))
	}
	defer func() {
		if err := d.registry.UpdateLiveness(context.WithoutCancel(ctx), agent.ID, types.LivenessIdle); err != nil {
			d.logger.Warn("failed to mark agent idle", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output  any
		summary string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		output, summary, err := d.executor.Execute(execCtx, agent, task)
		done <- outcome{output: output, summary: summary, err: err}
	}()

	select {
	case o := <-done:
		result.CompletedAt = d.config.Now()
		result.Output = o.output
		result.Summary = o.summary
		result.Err = o.err
		switch {
		case o.err == nil:
			result.State = types.TaskCompleted
		case ctx.Err() != nil && errors.Is(o.err, context.Canceled):
			// The executor surfaced the caller's cancellation.
			result.State = types.TaskCancelled
		case errors.Is(o.err, context.DeadlineExceeded):
			result.State = types.TaskTimedOut
			result.Err = types.NewTimeoutError("task timed out after " + timeout.String()).
				WithTarget(agent.ID).
				WithCause(o.err)
		default:
			result.State = types.TaskFailed
		}

	case <-execCtx.Done():
		result.CompletedAt = d.config.Now()
		if ctx.Err() != nil {
			result.State = types.TaskCancelled
			result.Err = ctx.Err()
		} else {
			result.State = types.TaskTimedOut
			result.Err = types.NewTimeoutError("task timed out after " + timeout.String()).
				WithTarget(agent.ID)
		}
	}

	d.logger.Info("task finished",
		zap.String("task_id", task.ID),
		zap.String("agent_id", agent.ID),
		zap.String("state", string(result.State)),
		zap.Duration("duration", result.Duration()),
	)

	return result
}

// writeOutcome records the task outcome to memory asynchronously. Successes
// become pattern records, failures become error records. The write shares
// the memory-backend breaker with enrichment.
func (d *Delegator) writeOutcome(task *types.Task, result *types.TaskResult) {
	if d.store == nil || result.State == types.TaskCancelled {
		return
	}

	record := outcomeRecord(task, result)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.config.MemoryWriteTimeout)
		defer cancel()

		err := d.breakers.Call(ctx, memoryBreakerKey, func(ctx context.Context) error {
			_, err := d.store.Store(ctx, record)
			return err
		})
		if err != nil {
			if types.IsCode(err, types.ErrCircuitOpen) {
				d.metrics.BreakerRejections.Inc()
				d.logger.Debug("dropping memory writeback, backend circuit open",
					zap.String("task_id", task.ID),
				)
				return
			}
			d.logger.Warn("memory writeback failed",
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
			d.metrics.MemoryOps.WithLabelValues("store", "error").Inc()
			return
		}
		d.metrics.MemoryOps.WithLabelValues("store", "ok").Inc()
	}()
}

// outcomeRecord builds the memory record for a terminal task result.
func outcomeRecord(task *types.Task, result *types.TaskResult) *types.MemoryRecord {
	tags := append([]string{string(task.Role)}, task.RequiredCapabilities...)

	record := &types.MemoryRecord{
		Tags: tags,
		Metadata: map[string]string{
			"task_id":  task.ID,
			"agent_id": result.AgentID,
			"state":    string(result.State),
		},
	}
	if runID, ok := task.Context["workflow_run_id"].(string); ok && runID != "" {
		record.Metadata["workflow_run_id"] = runID
	}

	if result.State == types.TaskCompleted {
		record.Category = types.MemoryPattern
		summary := result.Summary
		if summary == "" {
			summary = "completed: " + task.Description
		}
		record.Content = summary
	} else {
		record.Category = types.MemoryError
		var reason string
		if result.Err != nil {
			reason = result.Err.Error()
		}
		record.Content = strings.TrimSpace(fmt.Sprintf("failed: %s %s", task.Description, reason))
	}

	return record
}
