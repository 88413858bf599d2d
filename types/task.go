package types

import (
	"time"
)

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	// TaskPending is the initial state before dispatch.
	TaskPending TaskState = "pending"
	// TaskDispatched indicates the task is bound to an agent and running.
	TaskDispatched TaskState = "dispatched"
	// TaskCompleted is the terminal success state.
	TaskCompleted TaskState = "completed"
	// TaskFailed is the terminal failure state.
	TaskFailed TaskState = "failed"
	// TaskTimedOut indicates the task timeout elapsed before completion.
	TaskTimedOut TaskState = "timed_out"
	// TaskCancelled indicates the owning workflow was cancelled before
	// the task reached a terminal state.
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether the state is terminal.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimedOut, TaskCancelled:
		return true
	}
	return false
}

// validTransitions is the task state machine:
// pending → dispatched → {completed | failed | timed_out}, with
// cancellation allowed from any non-terminal state.
var validTransitions = map[TaskState][]TaskState{
	TaskPending:    {TaskDispatched, TaskFailed, TaskCancelled},
	TaskDispatched: {TaskCompleted, TaskFailed, TaskTimedOut, TaskCancelled},
}

// CanTransitionTo reports whether the state machine allows s → next.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is a single unit of delegated work with a target role and context.
type Task struct {
	// ID is the unique task identity. Assigned by the caller or the
	// workflow engine when expanding a spec.
	ID string `json:"id"`

	// Role is the target agent role.
	Role Role `json:"role"`

	// Description is the work description, also used as the memory
	// retrieval query during context enrichment.
	Description string `json:"description"`

	// RequiredCapabilities narrows agent discovery beyond the role.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`

	// Context is free-form context merged from caller input and
	// memory-derived hints.
	Context map[string]any `json:"context,omitempty"`

	// Priority orders tasks that become eligible simultaneously.
	Priority int `json:"priority"`

	// Timeout bounds a single dispatch. Zero means the delegator default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// DependsOn lists task ids that must complete first. Only meaningful
	// inside a workflow.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Validate checks the task before delegation.
func (t *Task) Validate() error {
	if t == nil {
		return NewValidationError("task is nil")
	}
	if t.Description == "" {
		return NewValidationError("task description is empty")
	}
	if !t.Role.Valid() {
		return NewValidationError("unknown task role: " + string(t.Role))
	}
	return nil
}

// Clone returns a copy with its own context map, so enrichment never
// mutates the caller's task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Context != nil {
		out.Context = make(map[string]any, len(t.Context))
		for k, v := range t.Context {
			out.Context[k] = v
		}
	}
	if t.RequiredCapabilities != nil {
		out.RequiredCapabilities = make([]string, len(t.RequiredCapabilities))
		copy(out.RequiredCapabilities, t.RequiredCapabilities)
	}
	if t.DependsOn != nil {
		out.DependsOn = make([]string, len(t.DependsOn))
		copy(out.DependsOn, t.DependsOn)
	}
	return &out
}

// TaskResult is the structured outcome of a delegated task.
type TaskResult struct {
	// TaskID is the id of the delegated task.
	TaskID string `json:"task_id"`

	// AgentID is the agent the task was bound to at dispatch time.
	// Empty if no agent was ever selected.
	AgentID string `json:"agent_id,omitempty"`

	// State is the terminal task state.
	State TaskState `json:"state"`

	// Output is the agent-produced result payload.
	Output any `json:"output,omitempty"`

	// Summary is a short outcome description written back to memory.
	Summary string `json:"summary,omitempty"`

	// Err is the failure, if any.
	Err error `json:"-"`

	// StartedAt and CompletedAt bound the dispatch.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns the dispatch duration.
func (r *TaskResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
