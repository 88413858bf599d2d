package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/taskmesh/internal/metrics"
	"github.com/BaSui01/taskmesh/retry"
	"github.com/BaSui01/taskmesh/types"
)

// ContextKeyDependencyOutputs is the task context key under which a node's
// completed dependency outputs are passed, keyed by node id.
const ContextKeyDependencyOutputs = "dependency_outputs"

// ContextKeyWorkflowRun is the task context key carrying the run id, for
// outcome lineage in memory records.
const ContextKeyWorkflowRun = "workflow_run_id"

// TaskDelegator dispatches a single task. Satisfied by *delegator.Delegator.
type TaskDelegator interface {
	Delegate(ctx context.Context, task *types.Task) (*types.TaskResult, error)
}

// Config holds workflow engine settings.
type Config struct {
	// MaxConcurrency bounds simultaneously dispatched nodes in parallel
	// mode.
	MaxConcurrency int

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{MaxConcurrency: 5}
}

func (c *Config) normalize() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine executes workflow specs.
type Engine struct {
	delegator TaskDelegator
	config    *Config
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewEngine creates a workflow engine over the given delegator.
func NewEngine(delegator TaskDelegator, config *Config, m *metrics.Metrics, logger *zap.Logger) *Engine {
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

	return &Engine{
		delegator: delegator,
		config:    config,
		metrics:   m,
		tracer:    otel.Tracer("taskmesh/workflow"),
		logger:    logger.With(zap.String("component", "workflow_engine")),
	}
}

// Execute runs the spec to completion and returns the aggregate result.
// The returned error is non-nil only for invalid specs; execution outcomes,
// including failures and cancellation, are reported through the result.
func (e *Engine) Execute(ctx context.Context, spec *types.WorkflowSpec) (*types.WorkflowResult, error) {
	return e.ExecuteRun(ctx, uuid.NewString(), spec)
}

// ExecuteRun is Execute with a caller-assigned run id, for callers that
// track the run before it finishes.
func (e *Engine) ExecuteRun(ctx context.Context, runID string, spec *types.WorkflowSpec) (*types.WorkflowResult, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "workflow.Execute",
		trace.WithAttributes(
			attribute.String("workflow.name", spec.Name),
			attribute.String("workflow.mode", string(spec.Mode)),
			attribute.String("workflow.run_id", runID),
			attribute.Int("workflow.nodes", len(spec.Nodes)),
		),
	)
	defer span.End()

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	result := &types.WorkflowResult{
		RunID:     runID,
		Name:      spec.Name,
		Status:    types.WorkflowRunning,
		Nodes:     make(map[string]types.NodeResult, len(spec.Nodes)),
		StartedAt: e.config.Now(),
	}

	e.logger.Info("workflow started",
		zap.String("run_id", runID),
		zap.String("workflow", spec.Name),
		zap.String("mode", string(spec.Mode)),
		zap.Int("nodes", len(spec.Nodes)),
	)

	switch spec.Mode {
	case types.ModeSequential:
		e.runSequential(ctx, spec, result)
	case types.ModeParallel:
		e.runParallel(ctx, spec, result)
	case types.ModeConditional:
		e.runConditional(ctx, spec, result)
	}

	e.finalize(ctx, spec, result)

	span.SetAttributes(attribute.String("workflow.status", string(result.Status)))
	if result.Status != types.WorkflowCompleted {
		span.SetStatus(codes.Error, string(result.Status))
	}

	e.logger.Info("workflow finished",
		zap.String("run_id", runID),
		zap.String("workflow", spec.Name),
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.CompletedAt.Sub(result.StartedAt)),
	)

	return result, nil
}

// runNode dispatches one node, applying its retry policy. deps is a
// snapshot of the node's dependency results taken at launch time.
func (e *Engine) runNode(ctx context.Context, runID string, node types.NodeSpec, deps map[string]types.NodeResult) types.NodeResult {
	task := node.Task.Clone()
	if task.ID == "" {
		task.ID = node.ID
	}
	task.DependsOn = append([]string(nil), node.DependsOn...)

	if task.Context == nil {
		task.Context = make(map[string]any, 2)
	}
	if runID != "" {
		task.Context[ContextKeyWorkflowRun] = runID
	}
	if outputs := dependencyOutputs(deps); len(outputs) > 0 {
		task.Context[ContextKeyDependencyOutputs] = outputs
	}

	nodeResult := types.NodeResult{NodeID: node.ID}

	run := func(ctx context.Context) error {
		nodeResult.Attempts++
		taskResult, err := e.delegator.Delegate(ctx, task)
		if taskResult != nil {
			nodeResult.Task = taskResult
		}
		return err
	}

	var err error
	if node.Retry != nil {
		retryer := retry.New(retry.Policy{
			MaxRetries: node.Retry.MaxRetries,
			BaseDelay:  node.Retry.BaseDelay,
			MaxDelay:   node.Retry.MaxDelay,
			RetryIf: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
		}, e.logger)
		err = retryer.Do(ctx, run)
	} else {
		err = run(ctx)
	}

	nodeResult.Err = err
	switch {
	case err == nil:
		nodeResult.State = types.NodeCompleted
	case errors.Is(err, context.Canceled),
		nodeResult.Task != nil && nodeResult.Task.State == types.TaskCancelled:
		nodeResult.State = types.NodeCancelled
	default:
		nodeResult.State = types.NodeFailed
	}

	return nodeResult
}

// finalize stamps the run's end, resolves any node never reached, and
// derives the aggregate status.
func (e *Engine) finalize(ctx context.Context, spec *types.WorkflowSpec, result *types.WorkflowResult) {
	for _, node := range spec.Nodes {
		if _, ok := result.Nodes[node.ID]; !ok {
			result.Nodes[node.ID] = types.NodeResult{
				NodeID: node.ID,
				State:  types.NodeCancelled,
				Err:    ctx.Err(),
			}
		}
	}

	result.CompletedAt = e.config.Now()
	result.Status = aggregateStatus(spec, result, ctx.Err())

	for _, n := range result.Nodes {
		e.metrics.WorkflowNodesTotal.WithLabelValues(string(n.State)).Inc()
	}
	e.metrics.WorkflowsTotal.WithLabelValues(string(spec.Mode), string(result.Status)).Inc()
	e.metrics.WorkflowDuration.WithLabelValues(string(spec.Mode)).
		Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())
}

// aggregateStatus derives the run status from node outcomes. Failures on
// continue-on-failure nodes do not fail the run; skipped nodes never do.
func aggregateStatus(spec *types.WorkflowSpec, result *types.WorkflowResult, ctxErr error) types.WorkflowStatus {
	if errors.Is(ctxErr, context.Canceled) {
		return types.WorkflowCancelled
	}

	tolerated := make(map[string]bool, len(spec.Nodes))
	for _, node := range spec.Nodes {
		tolerated[node.ID] = node.ContinueOnFailure
	}

	cancelled := false
	for id, n := range result.Nodes {
		switch n.State {
		case types.NodeFailed:
			if !tolerated[id] {
				return types.WorkflowFailed
			}
		case types.NodeCancelled:
			cancelled = true
		}
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return types.WorkflowFailed
	}
	if cancelled {
		return types.WorkflowCancelled
	}
	return types.WorkflowCompleted
}

// depsTerminal reports whether every dependency has a recorded result.
func depsTerminal(node types.NodeSpec, results map[string]types.NodeResult) bool {
	for _, dep := range node.DependsOn {
		if _, ok := results[dep]; !ok {
			return false
		}
	}
	return true
}

// skipReason returns why the node must be skipped given its dependencies'
// results, or "" when it may run. Callers ensure dependencies are terminal.
func skipReason(node types.NodeSpec, results map[string]types.NodeResult) string {
	for _, dep := range node.DependsOn {
		if results[dep].State != types.NodeCompleted {
			return "dependency " + dep + " did not complete"
		}
	}
	return ""
}

// depResults snapshots the node's dependency results.
func depResults(node types.NodeSpec, results map[string]types.NodeResult) map[string]types.NodeResult {
	deps := make(map[string]types.NodeResult, len(node.DependsOn))
	for _, dep := range node.DependsOn {
		deps[dep] = results[dep]
	}
	return deps
}

// dependencyOutputs collects the outputs of completed dependencies.
func dependencyOutputs(deps map[string]types.NodeResult) map[string]any {
	outputs := make(map[string]any)
	for id, dep := range deps {
		if dep.State == types.NodeCompleted && dep.Task != nil && dep.Task.Output != nil {
			outputs[id] = dep.Task.Output
		}
	}
	return outputs
}

func skippedNode(id, reason string) types.NodeResult {
	return types.NodeResult{
		NodeID: id,
		State:  types.NodeSkipped,
		Err:    errors.New(reason),
	}
}
