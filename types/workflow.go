package types

import (
	"time"
)

// CoordinationMode defines how a workflow's nodes are scheduled.
type CoordinationMode string

const (
	// ModeSequential executes nodes one at a time in declaration order.
	ModeSequential CoordinationMode = "sequential"
	// ModeParallel dispatches every dependency-satisfied node concurrently,
	// bounded by the engine's max concurrency.
	ModeParallel CoordinationMode = "parallel"
	// ModeConditional gates each node on a predicate over its dependencies'
	// accumulated results.
	ModeConditional CoordinationMode = "conditional"
)

// Valid reports whether the mode is known.
func (m CoordinationMode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeConditional:
		return true
	}
	return false
}

// Predicate decides whether a conditional node runs, given the terminal
// results of its dependencies keyed by node id.
type Predicate func(deps map[string]NodeResult) (bool, error)

// RetryPolicy is the per-node retry configuration. Retries use exponential
// backoff: BaseDelay × 2^attempt, capped at MaxDelay.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"max_retries"`

	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay caps the backoff.
	MaxDelay time.Duration `json:"max_delay"`
}

// NodeSpec is a single node of a workflow graph.
type NodeSpec struct {
	// ID identifies the node inside the workflow. Doubles as the task id.
	ID string `json:"id"`

	// Task is the work delegated when the node runs.
	Task Task `json:"task"`

	// DependsOn lists node ids that must reach terminal success first.
	DependsOn []string `json:"depends_on,omitempty"`

	// ContinueOnFailure lets the workflow proceed past this node's failure.
	ContinueOnFailure bool `json:"continue_on_failure,omitempty"`

	// Retry enables per-node retry with exponential backoff.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// Condition gates the node in conditional mode. Evaluated once all
	// dependencies are terminal; false marks the node skipped.
	Condition Predicate `json:"-"`
}

// WorkflowSpec is a named graph of tasks with a coordination mode.
// The dependency graph must be acyclic; the engine rejects cyclic specs
// before execution begins.
type WorkflowSpec struct {
	// Name identifies the workflow.
	Name string `json:"name"`

	// Mode is the coordination mode.
	Mode CoordinationMode `json:"mode"`

	// Nodes are the workflow's task definitions, in declaration order.
	Nodes []NodeSpec `json:"nodes"`

	// Timeout is the overall workflow deadline. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// NodeState is the terminal state of a workflow node.
type NodeState string

const (
	// NodeCompleted indicates the node's task succeeded.
	NodeCompleted NodeState = "completed"
	// NodeFailed indicates the node's task failed after any retries.
	NodeFailed NodeState = "failed"
	// NodeSkipped indicates the node never ran: a dependency failed or a
	// conditional predicate returned false.
	NodeSkipped NodeState = "skipped"
	// NodeCancelled indicates the workflow was cancelled before the node
	// reached a terminal state.
	NodeCancelled NodeState = "cancelled"
)

// NodeResult is the terminal outcome of one workflow node.
type NodeResult struct {
	// NodeID is the node's id.
	NodeID string `json:"node_id"`

	// State is the node's terminal state.
	State NodeState `json:"state"`

	// Task is the task result, when the node was dispatched.
	Task *TaskResult `json:"task,omitempty"`

	// Err is the failure or skip reason, if any.
	Err error `json:"-"`

	// Attempts is the number of dispatch attempts, including retries.
	Attempts int `json:"attempts"`
}

// WorkflowStatus is the aggregate outcome of a workflow run.
type WorkflowStatus string

const (
	// WorkflowCompleted indicates every non-continue-on-failure node
	// succeeded (skipped nodes permitted in conditional mode).
	WorkflowCompleted WorkflowStatus = "completed"
	// WorkflowFailed indicates at least one required node failed.
	WorkflowFailed WorkflowStatus = "failed"
	// WorkflowCancelled indicates the run was cancelled.
	WorkflowCancelled WorkflowStatus = "cancelled"
	// WorkflowRunning indicates the run has not finished.
	WorkflowRunning WorkflowStatus = "running"
)

// WorkflowResult aggregates all node terminal states of a run. A failed
// run still carries every node's result so callers can diagnose partial
// progress.
type WorkflowResult struct {
	// RunID identifies the workflow run.
	RunID string `json:"run_id"`

	// Name is the workflow name.
	Name string `json:"name"`

	// Status is the aggregate outcome.
	Status WorkflowStatus `json:"status"`

	// Nodes maps node id to its terminal result.
	Nodes map[string]NodeResult `json:"nodes"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Failed returns the ids of failed nodes, in no particular order.
func (r *WorkflowResult) Failed() []string {
	var out []string
	for id, n := range r.Nodes {
		if n.State == NodeFailed {
			out = append(out, id)
		}
	}
	return out
}

// Skipped returns the ids of skipped nodes, in no particular order.
func (r *WorkflowResult) Skipped() []string {
	var out []string
	for id, n := range r.Nodes {
		if n.State == NodeSkipped {
			out = append(out, id)
		}
	}
	return out
}
