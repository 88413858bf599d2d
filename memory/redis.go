package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/taskmesh/types"
)

const (
	redisRecordPrefix   = "taskmesh:memory:rec:"
	redisCategoryPrefix = "taskmesh:memory:cat:"
	redisLRUKey         = "taskmesh:memory:lru"
)

// RedisStore is a Store backed by Redis. Records are stored as JSON values
// with the configured TTL applied as key expiry, and indexed per category
// in a set. Recency lives in a sorted set scored by last access, so the
// MaxRecords cap holds across processes sharing the instance.
type RedisStore struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
}

// RedisOptions holds Redis connection settings.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// NewRedisStore creates a Store backed by the given Redis instance.
func NewRedisStore(opts RedisOptions, config *Config, logger *zap.Logger) *RedisStore {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	return &RedisStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "memory_store"), zap.String("backend", "redis")),
	}
}

// NewRedisStoreWithClient creates a Store over an existing client. The
// caller retains ownership of the client's lifecycle in tests.
func NewRedisStoreWithClient(client *redis.Client, config *Config, logger *zap.Logger) *RedisStore {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "memory_store"), zap.String("backend", "redis")),
	}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return types.NewError(types.ErrMemoryBackend, "redis ping failed").WithCause(err)
	}
	return nil
}

// Store implements Store.Store.
func (s *RedisStore) Store(ctx context.Context, record *types.MemoryRecord) (string, error) {
	if err := validateRecord(record); err != nil {
		return "", err
	}

	stored := record.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.config.Now()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return "", types.NewError(types.ErrMemoryBackend, "failed to encode memory record").WithCause(err)
	}

	var ttl time.Duration
	if s.config.TTL > 0 {
		ttl = s.config.TTL
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisRecordPrefix+stored.ID, data, ttl)
	pipe.SAdd(ctx, redisCategoryPrefix+string(stored.Category), stored.ID)
	pipe.ZAdd(ctx, redisLRUKey, redis.Z{Score: s.lruScore(), Member: stored.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", types.NewError(types.ErrMemoryBackend, "failed to store memory record").WithCause(err)
	}

	if err := s.trimToCap(ctx); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// lruScore is the recency score for the LRU sorted set.
func (s *RedisStore) lruScore() float64 {
	return float64(s.config.Now().UnixNano())
}

// Retrieve implements Store.Retrieve. Candidates are loaded per category
// and ranked in process.
func (s *RedisStore) Retrieve(ctx context.Context, query Query) ([]*types.MemoryRecord, error) {
	categories := query.Categories
	if len(categories) == 0 {
		categories = types.MemoryCategories()
	}

	candidates := make([]*types.MemoryRecord, 0)
	for _, cat := range categories {
		records, err := s.loadCategory(ctx, cat)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, records...)
	}

	matched := rank(candidates, query)
	s.touch(ctx, matched)
	return matched, nil
}

// touch refreshes the recency score of retrieved records. Best effort, a
// failed touch only skews eviction order.
func (s *RedisStore) touch(ctx context.Context, records []*types.MemoryRecord) {
	if len(records) == 0 {
		return
	}
	score := s.lruScore()
	members := make([]redis.Z, len(records))
	for i, r := range records {
		members[i] = redis.Z{Score: score, Member: r.ID}
	}
	if err := s.client.ZAdd(ctx, redisLRUKey, members...).Err(); err != nil {
		s.logger.Warn("failed to refresh memory recency", zap.Error(err))
	}
}

// loadCategory fetches all live records of a category, pruning index
// entries whose record key has expired.
func (s *RedisStore) loadCategory(ctx context.Context, cat types.MemoryCategory) ([]*types.MemoryRecord, error) {
	setKey := redisCategoryPrefix + string(cat)

	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to list memory records").WithCause(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisRecordPrefix + id
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to load memory records").WithCause(err)
	}

	records := make([]*types.MemoryRecord, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var r types.MemoryRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.logger.Warn("skipping undecodable memory record", zap.String("record_id", ids[i]), zap.Error(err))
			continue
		}
		records = append(records, &r)
	}

	if len(stale) > 0 {
		pipe := s.client.TxPipeline()
		pipe.SRem(ctx, setKey, stale...)
		pipe.ZRem(ctx, redisLRUKey, stale...)
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn("failed to prune stale memory index entries", zap.Error(err))
		}
	}

	return records, nil
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	raw, err := s.client.Get(ctx, redisRecordPrefix+id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to load memory record").WithCause(err)
	}

	var r types.MemoryRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to decode memory record").WithCause(err)
	}
	return &r, nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisRecordPrefix+id)
	pipe.SRem(ctx, redisCategoryPrefix+string(record.Category), id)
	pipe.ZRem(ctx, redisLRUKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrMemoryBackend, "failed to delete memory record").WithCause(err)
	}
	return nil
}

// Evict implements Store.Evict. Redis handles TTL expiry itself; the pass
// prunes index entries whose record key has expired, then trims the
// least-recently-accessed records back under MaxRecords.
func (s *RedisStore) Evict(ctx context.Context) error {
	for _, cat := range types.MemoryCategories() {
		if _, err := s.loadCategory(ctx, cat); err != nil {
			return err
		}
	}
	return s.trimToCap(ctx)
}

// trimToCap deletes the oldest-accessed records until the store is back
// under MaxRecords.
func (s *RedisStore) trimToCap(ctx context.Context) error {
	if s.config.MaxRecords <= 0 {
		return nil
	}

	total, err := s.client.ZCard(ctx, redisLRUKey).Result()
	if err != nil {
		return types.NewError(types.ErrMemoryBackend, "failed to count memory records").WithCause(err)
	}
	excess := total - int64(s.config.MaxRecords)
	if excess <= 0 {
		return nil
	}

	victims, err := s.client.ZRange(ctx, redisLRUKey, 0, excess-1).Result()
	if err != nil {
		return types.NewError(types.ErrMemoryBackend, "failed to select eviction victims").WithCause(err)
	}
	for _, id := range victims {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
		// The record key may have expired already; drop the score either way.
		if err := s.client.ZRem(ctx, redisLRUKey, id).Err(); err != nil {
			return types.NewError(types.ErrMemoryBackend, "failed to trim memory recency index").WithCause(err)
		}
	}
	return nil
}

// Size implements Store.Size.
func (s *RedisStore) Size(ctx context.Context) (int, error) {
	n := 0
	for _, cat := range types.MemoryCategories() {
		records, err := s.loadCategory(ctx, cat)
		if err != nil {
			return 0, err
		}
		n += len(records)
	}
	return n, nil
}

// Close implements Store.Close.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
