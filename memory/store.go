package memory

import (
	"context"
	"time"

	"github.com/BaSui01/taskmesh/types"
)

// Query describes a memory retrieval request.
type Query struct {
	// Categories restricts retrieval to the listed categories. Empty means
	// all categories.
	Categories []types.MemoryCategory

	// Text is the free-text relevance query, typically a task description.
	Text string

	// Tags are the relevance tags, typically the task's required capabilities.
	Tags []string

	// Limit caps the number of returned records. Zero means no cap.
	Limit int
}

// Store is the categorized memory store.
type Store interface {
	// Store inserts a record and returns its id. A missing id is assigned,
	// a missing CreatedAt is stamped. Fails with VALIDATION on an unknown
	// category or empty content.
	Store(ctx context.Context, record *types.MemoryRecord) (string, error)

	// Retrieve returns records matching the query, ranked by relevance.
	// Retrieval refreshes the returned records' recency for LRU purposes.
	Retrieve(ctx context.Context, query Query) ([]*types.MemoryRecord, error)

	// Get returns a single record by id, or nil when absent.
	Get(ctx context.Context, id string) (*types.MemoryRecord, error)

	// Delete removes a record by id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// Evict runs one eviction pass: records past their TTL are dropped
	// unconditionally, then the least-recently-retrieved records go until
	// the store is back under MaxRecords. Backends also evict inline; Evict
	// exists for callers that want the pass to run now.
	Evict(ctx context.Context) error

	// Size returns the number of live records.
	Size(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Config holds settings shared by the store backends.
type Config struct {
	// MaxRecords caps the store size before LRU eviction. 0 means unlimited.
	MaxRecords int

	// TTL is the record time-to-live. 0 means records never expire.
	TTL time.Duration

	// JanitorInterval is the background expiry sweep period for backends
	// that run one.
	JanitorInterval time.Duration

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRecords:      10000,
		TTL:             24 * time.Hour,
		JanitorInterval: time.Minute,
	}
}

func (c *Config) normalize() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
}

// validateRecord checks a record before insertion.
func validateRecord(record *types.MemoryRecord) error {
	if record == nil {
		return types.NewValidationError("memory record is nil")
	}
	if record.Content == "" {
		return types.NewValidationError("memory record content is empty")
	}
	if !record.Category.Valid() {
		return types.NewValidationError("unknown memory category: " + string(record.Category))
	}
	return nil
}

// categorySet builds a membership set from the query's categories.
// Nil means all categories match.
func categorySet(categories []types.MemoryCategory) map[types.MemoryCategory]struct{} {
	if len(categories) == 0 {
		return nil
	}
	set := make(map[types.MemoryCategory]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return set
}
