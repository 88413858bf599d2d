package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole_Valid(t *testing.T) {
	for _, r := range Roles() {
		assert.True(t, r.Valid(), "role %s should be valid", r)
	}
	assert.False(t, Role("wizard").Valid())
	assert.False(t, Role("").Valid())
}

func TestDefaultCapabilities(t *testing.T) {
	caps := DefaultCapabilities(RoleEngineer)
	require.NotEmpty(t, caps)
	assert.Contains(t, caps, "code_development")

	// Returned slice is a copy.
	caps[0] = "mutated"
	assert.NotContains(t, DefaultCapabilities(RoleEngineer), "mutated")

	assert.Nil(t, DefaultCapabilities(RoleCustom))
}

func TestAgentDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    *AgentDescriptor
		wantErr bool
	}{
		{"nil", nil, true},
		{"empty id", &AgentDescriptor{Role: RoleQA}, true},
		{"bad role", &AgentDescriptor{ID: "a1", Role: Role("x")}, true},
		{"ok", &AgentDescriptor{ID: "a1", Role: RoleQA}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.True(t, IsCode(err, ErrValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAgentDescriptor_HasCapabilities(t *testing.T) {
	d := &AgentDescriptor{
		ID:           "eng-1",
		Role:         RoleEngineer,
		Capabilities: []string{"code_development", "debugging"},
	}

	assert.True(t, d.HasCapabilities(nil))
	assert.True(t, d.HasCapabilities([]string{"debugging"}))
	assert.True(t, d.HasCapabilities([]string{"debugging", "code_development"}))
	assert.False(t, d.HasCapabilities([]string{"debugging", "testing"}))
}

func TestAgentDescriptor_Equal(t *testing.T) {
	a := &AgentDescriptor{ID: "a", Role: RoleQA, Capabilities: []string{"testing"}}
	b := &AgentDescriptor{ID: "a", Role: RoleQA, Capabilities: []string{"testing"}}
	assert.True(t, a.Equal(b))

	b.Capabilities = []string{"other"}
	assert.False(t, a.Equal(b))

	assert.False(t, a.Equal(nil))
	assert.False(t, a.Equal(&AgentDescriptor{ID: "b", Role: RoleQA}))
}

func TestAgentDescriptor_Clone(t *testing.T) {
	d := &AgentDescriptor{
		ID:           "a",
		Role:         RoleData,
		Capabilities: []string{"analytics"},
		Metadata:     map[string]string{"zone": "eu"},
	}

	c := d.Clone()
	c.Capabilities[0] = "mutated"
	c.Metadata["zone"] = "us"

	assert.Equal(t, "analytics", d.Capabilities[0])
	assert.Equal(t, "eu", d.Metadata["zone"])
}
