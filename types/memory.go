package types

import (
	"time"
)

// MemoryCategory partitions the memory store. The four-way split keeps
// retrieval queries and eviction policy deterministic.
type MemoryCategory string

const (
	// MemoryProject holds project-level decisions and context.
	MemoryProject MemoryCategory = "project"
	// MemoryPattern holds successful solution patterns written back after
	// completed tasks.
	MemoryPattern MemoryCategory = "pattern"
	// MemoryTeam holds team conventions and preferences.
	MemoryTeam MemoryCategory = "team"
	// MemoryError holds failure records written back after failed tasks.
	MemoryError MemoryCategory = "error"
)

// Valid reports whether the category is one of the four known categories.
func (c MemoryCategory) Valid() bool {
	switch c {
	case MemoryProject, MemoryPattern, MemoryTeam, MemoryError:
		return true
	}
	return false
}

// MemoryCategories returns all known categories.
func MemoryCategories() []MemoryCategory {
	return []MemoryCategory{MemoryProject, MemoryPattern, MemoryTeam, MemoryError}
}

// MemoryRecord is a categorized, immutable note of past task context or
// outcome. Owned exclusively by the memory store; never mutated by callers
// after insertion.
type MemoryRecord struct {
	// ID is the unique record identity.
	ID string `json:"id"`

	// Category is the record's partition.
	Category MemoryCategory `json:"category"`

	// Content is the record text.
	Content string `json:"content"`

	// Tags support relevance ranking at retrieval time.
	Tags []string `json:"tags,omitempty"`

	// Metadata carries scalar lineage values (task id, agent id, workflow
	// run id) for audit.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is the insertion timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so store internals never leak to callers.
func (r *MemoryRecord) Clone() *MemoryRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Tags != nil {
		out.Tags = make([]string, len(r.Tags))
		copy(out.Tags, r.Tags)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
