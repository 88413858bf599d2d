package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskState_Transitions(t *testing.T) {
	tests := []struct {
		from TaskState
		to   TaskState
		ok   bool
	}{
		{TaskPending, TaskDispatched, true},
		{TaskPending, TaskCancelled, true},
		{TaskPending, TaskCompleted, false},
		{TaskDispatched, TaskCompleted, true},
		{TaskDispatched, TaskFailed, true},
		{TaskDispatched, TaskTimedOut, true},
		{TaskDispatched, TaskCancelled, true},
		{TaskCompleted, TaskFailed, false},
		{TaskFailed, TaskDispatched, false},
		{TaskTimedOut, TaskPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTaskState_Terminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskDispatched.Terminal())
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskTimedOut.Terminal())
	assert.True(t, TaskCancelled.Terminal())
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name     string
		task     *Task
		wantCode ErrorCode
	}{
		{
			name:     "nil task",
			task:     nil,
			wantCode: ErrValidation,
		},
		{
			name:     "empty description",
			task:     &Task{Role: RoleEngineer},
			wantCode: ErrValidation,
		},
		{
			name:     "unknown role",
			task:     &Task{Role: Role("wizard"), Description: "summon"},
			wantCode: ErrValidation,
		},
		{
			name: "valid",
			task: &Task{Role: RoleEngineer, Description: "implement parser"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.wantCode))
		})
	}
}

func TestTask_Clone(t *testing.T) {
	orig := &Task{
		ID:          "t1",
		Role:        RoleQA,
		Description: "run regression suite",
		Context:     map[string]any{"suite": "full"},
		DependsOn:   []string{"build"},
	}

	clone := orig.Clone()
	clone.Context["suite"] = "smoke"
	clone.DependsOn[0] = "other"

	assert.Equal(t, "full", orig.Context["suite"])
	assert.Equal(t, "build", orig.DependsOn[0])
}

func TestTaskResult_Duration(t *testing.T) {
	start := time.Now()
	r := &TaskResult{StartedAt: start, CompletedAt: start.Add(250 * time.Millisecond)}
	assert.Equal(t, 250*time.Millisecond, r.Duration())

	assert.Zero(t, (&TaskResult{}).Duration())
}
