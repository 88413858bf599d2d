package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinationMode_Valid(t *testing.T) {
	assert.True(t, ModeSequential.Valid())
	assert.True(t, ModeParallel.Valid())
	assert.True(t, ModeConditional.Valid())
	assert.False(t, CoordinationMode("batch").Valid())
}

func TestMemoryCategory_Valid(t *testing.T) {
	for _, c := range MemoryCategories() {
		assert.True(t, c.Valid())
	}
	assert.False(t, MemoryCategory("bugs").Valid())
}

func TestMemoryRecord_Clone(t *testing.T) {
	r := &MemoryRecord{
		ID:       "m1",
		Category: MemoryPattern,
		Content:  "retry with backoff worked",
		Tags:     []string{"engineer", "retry"},
		Metadata: map[string]string{"task_id": "t1"},
	}

	c := r.Clone()
	c.Tags[0] = "mutated"
	c.Metadata["task_id"] = "other"

	assert.Equal(t, "engineer", r.Tags[0])
	assert.Equal(t, "t1", r.Metadata["task_id"])
}

func TestWorkflowResult_FailedSkipped(t *testing.T) {
	r := &WorkflowResult{
		Nodes: map[string]NodeResult{
			"design":    {NodeID: "design", State: NodeFailed},
			"implement": {NodeID: "implement", State: NodeSkipped},
			"test":      {NodeID: "test", State: NodeSkipped},
			"report":    {NodeID: "report", State: NodeCompleted},
		},
	}

	assert.ElementsMatch(t, []string{"design"}, r.Failed())
	assert.ElementsMatch(t, []string{"implement", "test"}, r.Skipped())
}
