package types

import (
	"time"
)

// Role identifies the specialization of an agent. Routing matches on role
// first and filters on capability tags second.
type Role string

const (
	RoleArchitect     Role = "architect"
	RoleEngineer      Role = "engineer"
	RoleQA            Role = "qa"
	RoleSecurity      Role = "security"
	RolePerformance   Role = "performance"
	RoleIntegration   Role = "integration"
	RoleDocumentation Role = "documentation"
	RoleOperations    Role = "operations"
	RoleResearch      Role = "research"
	RoleData          Role = "data"
	// RoleCustom is the open slot for roles outside the built-in set;
	// custom agents are matched purely on capability tags.
	RoleCustom Role = "custom"
)

var knownRoles = map[Role]struct{}{
	RoleArchitect:     {},
	RoleEngineer:      {},
	RoleQA:            {},
	RoleSecurity:      {},
	RolePerformance:   {},
	RoleIntegration:   {},
	RoleDocumentation: {},
	RoleOperations:    {},
	RoleResearch:      {},
	RoleData:          {},
	RoleCustom:        {},
}

// Valid reports whether the role belongs to the known role set.
func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// Roles returns all known roles.
func Roles() []Role {
	return []Role{
		RoleArchitect, RoleEngineer, RoleQA, RoleSecurity, RolePerformance,
		RoleIntegration, RoleDocumentation, RoleOperations, RoleResearch,
		RoleData, RoleCustom,
	}
}

// defaultCapabilities maps each built-in role to its baseline capability
// tags. Agents may register additional tags on top of these.
var defaultCapabilities = map[Role][]string{
	RoleArchitect:     {"system_design", "architectural_patterns", "technology_selection"},
	RoleEngineer:      {"feature_implementation", "code_development", "debugging"},
	RoleQA:            {"testing", "quality_assurance", "bug_detection"},
	RoleSecurity:      {"security_analysis", "vulnerability_assessment"},
	RolePerformance:   {"performance_optimization", "bottleneck_analysis"},
	RoleIntegration:   {"api_integration", "service_composition"},
	RoleDocumentation: {"technical_writing", "api_documentation"},
	RoleOperations:    {"ci_cd", "infrastructure", "deployment", "monitoring"},
	RoleResearch:      {"technology_research", "requirements_analysis"},
	RoleData:          {"data_modeling", "etl_pipelines", "analytics"},
}

// DefaultCapabilities returns the baseline capability tags for a role.
// Custom roles have no baseline.
func DefaultCapabilities(r Role) []string {
	caps, ok := defaultCapabilities[r]
	if !ok {
		return nil
	}
	out := make([]string, len(caps))
	copy(out, caps)
	return out
}

// Liveness represents an agent's heartbeat-derived availability state.
type Liveness string

const (
	// LivenessActive indicates the agent is heartbeating and processing work.
	LivenessActive Liveness = "active"
	// LivenessIdle indicates the agent is heartbeating but has no work.
	LivenessIdle Liveness = "idle"
	// LivenessUnreachable indicates the agent missed its heartbeat timeout.
	LivenessUnreachable Liveness = "unreachable"
)

// AgentDescriptor describes a registered agent: identity, role, capability
// tags and heartbeat-derived liveness.
type AgentDescriptor struct {
	// ID is the stable agent identity.
	ID string `json:"id"`

	// Role is the agent's specialization.
	Role Role `json:"role"`

	// Capabilities are the agent's capability tags.
	Capabilities []string `json:"capabilities,omitempty"`

	// Liveness is the current availability state.
	Liveness Liveness `json:"liveness"`

	// LastHeartbeat is when the agent last heartbeated.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// RegisteredAt is when the agent was registered.
	RegisteredAt time.Time `json:"registered_at"`

	// Metadata contains additional descriptor metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks the descriptor for registration.
func (d *AgentDescriptor) Validate() error {
	if d == nil {
		return NewValidationError("agent descriptor is nil")
	}
	if d.ID == "" {
		return NewValidationError("agent id is empty")
	}
	if !d.Role.Valid() {
		return NewValidationError("unknown agent role: " + string(d.Role))
	}
	return nil
}

// HasCapabilities reports whether the descriptor carries every listed tag.
func (d *AgentDescriptor) HasCapabilities(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(d.Capabilities))
	for _, c := range d.Capabilities {
		have[c] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// Equal reports whether two descriptors are identical apart from
// registration bookkeeping. Used for idempotent re-registration.
func (d *AgentDescriptor) Equal(other *AgentDescriptor) bool {
	if other == nil {
		return false
	}
	if d.ID != other.ID || d.Role != other.Role {
		return false
	}
	if len(d.Capabilities) != len(other.Capabilities) {
		return false
	}
	for i := range d.Capabilities {
		if d.Capabilities[i] != other.Capabilities[i] {
			return false
		}
	}
	if len(d.Metadata) != len(other.Metadata) {
		return false
	}
	for k, v := range d.Metadata {
		if other.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the descriptor.
func (d *AgentDescriptor) Clone() *AgentDescriptor {
	if d == nil {
		return nil
	}
	out := *d
	if d.Capabilities != nil {
		out.Capabilities = make([]string, len(d.Capabilities))
		copy(out.Capabilities, d.Capabilities)
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
