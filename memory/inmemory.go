package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/taskmesh/types"
)

// entry wraps a stored record with its LRU bookkeeping.
type entry struct {
	record        *types.MemoryRecord
	lastRetrieved time.Time
}

// InMemoryStore is the default Store implementation: an in-process map with
// TTL expiry and least-recently-retrieved eviction under size pressure.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*entry

	config *Config
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(config *Config, logger *zap.Logger) *InMemoryStore {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemoryStore{
		records: make(map[string]*entry),
		config:  config,
		logger:  logger.With(zap.String("component", "memory_store")),
		done:    make(chan struct{}),
	}
}

// Start launches the background expiry janitor.
func (s *InMemoryStore) Start(ctx context.Context) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.config.JanitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				_ = s.Evict(ctx)
			}
		}
	}()
	return nil
}

// Store implements Store.Store.
func (s *InMemoryStore) Store(ctx context.Context, record *types.MemoryRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateRecord(record); err != nil {
		return "", err
	}

	stored := record.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.config.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[stored.ID] = &entry{record: stored, lastRetrieved: now}

	if s.config.MaxRecords > 0 && len(s.records) > s.config.MaxRecords {
		s.evictLRULocked(len(s.records) - s.config.MaxRecords)
	}

	s.logger.Debug("memory record stored",
		zap.String("record_id", stored.ID),
		zap.String("category", string(stored.Category)),
	)

	return stored.ID, nil
}

// Retrieve implements Store.Retrieve.
func (s *InMemoryStore) Retrieve(ctx context.Context, query Query) ([]*types.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now()
	wanted := categorySet(query.Categories)

	candidates := make([]*types.MemoryRecord, 0)
	for id, e := range s.records {
		if s.expired(e.record, now) {
			delete(s.records, id)
			continue
		}
		if wanted != nil {
			if _, ok := wanted[e.record.Category]; !ok {
				continue
			}
		}
		candidates = append(candidates, e.record)
	}

	matched := rank(candidates, query)

	out := make([]*types.MemoryRecord, 0, len(matched))
	for _, r := range matched {
		// Returned records count as retrieved for LRU purposes.
		s.records[r.ID].lastRetrieved = now
		out = append(out, r.Clone())
	}
	return out, nil
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[id]
	if !ok || s.expired(e.record, s.config.Now()) {
		return nil, nil
	}
	return e.record.Clone(), nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Evict implements Store.Evict.
func (s *InMemoryStore) Evict(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.evictExpired()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.MaxRecords > 0 && len(s.records) > s.config.MaxRecords {
		s.evictLRULocked(len(s.records) - s.config.MaxRecords)
	}
	return nil
}

// Size implements Store.Size.
func (s *InMemoryStore) Size(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.config.Now()
	n := 0
	for _, e := range s.records {
		if !s.expired(e.record, now) {
			n++
		}
	}
	return n, nil
}

// Close implements Store.Close.
func (s *InMemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *InMemoryStore) expired(r *types.MemoryRecord, now time.Time) bool {
	return s.config.TTL > 0 && now.Sub(r.CreatedAt) > s.config.TTL
}

// evictExpired drops records past their TTL.
func (s *InMemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now()
	evicted := 0
	for id, e := range s.records {
		if s.expired(e.record, now) {
			delete(s.records, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("expired memory records evicted", zap.Int("count", evicted))
	}
}

// evictLRULocked removes the n least-recently-retrieved records. Ties break
// on CreatedAt then id so eviction is deterministic. Caller holds the lock.
func (s *InMemoryStore) evictLRULocked(n int) {
	for ; n > 0; n-- {
		var victimID string
		var victim *entry
		for id, e := range s.records {
			if victim == nil || olderEntry(e, victim) || (sameAge(e, victim) && id < victimID) {
				victimID = id
				victim = e
			}
		}
		if victim == nil {
			return
		}
		delete(s.records, victimID)
		s.logger.Debug("memory record evicted",
			zap.String("record_id", victimID),
			zap.String("category", string(victim.record.Category)),
		)
	}
}

func olderEntry(a, b *entry) bool {
	if !a.lastRetrieved.Equal(b.lastRetrieved) {
		return a.lastRetrieved.Before(b.lastRetrieved)
	}
	return a.record.CreatedAt.Before(b.record.CreatedAt)
}

func sameAge(a, b *entry) bool {
	return a.lastRetrieved.Equal(b.lastRetrieved) && a.record.CreatedAt.Equal(b.record.CreatedAt)
}
