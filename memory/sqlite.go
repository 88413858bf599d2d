package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/taskmesh/types"
)

// memoryRow is the persisted form of a memory record. Tags and metadata
// are stored JSON-encoded.
type memoryRow struct {
	ID            string    `gorm:"primaryKey"`
	Category      string    `gorm:"index"`
	Content       string
	Tags          string
	Metadata      string
	CreatedAt     time.Time `gorm:"index"`
	LastRetrieved time.Time `gorm:"index"`
}

// TableName implements gorm's table naming.
func (memoryRow) TableName() string { return "memory_records" }

// SQLiteStore is a Store backed by a SQLite database. It applies the same
// TTL expiry and least-recently-retrieved eviction as the in-memory store,
// enforced inline on store and retrieve.
type SQLiteStore struct {
	db     *gorm.DB
	config *Config
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string, config *Config, logger *zap.Logger) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to open sqlite database").WithCause(err)
	}
	if err := db.AutoMigrate(&memoryRow{}); err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to migrate sqlite schema").WithCause(err)
	}

	return &SQLiteStore{
		db:     db,
		config: config,
		logger: logger.With(zap.String("component", "memory_store"), zap.String("backend", "sqlite")),
	}, nil
}

// Store implements Store.Store.
func (s *SQLiteStore) Store(ctx context.Context, record *types.MemoryRecord) (string, error) {
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

	row, err := toRow(stored, now)
	if err != nil {
		return "", err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(row).Error; err != nil {
			return err
		}
		return s.evictLocked(tx)
	})
	if err != nil {
		return "", types.NewError(types.ErrMemoryBackend, "failed to store memory record").WithCause(err)
	}

	return stored.ID, nil
}

// evictLocked trims the table to MaxRecords, dropping the least recently
// retrieved rows first. Runs inside the insert transaction.
func (s *SQLiteStore) evictLocked(tx *gorm.DB) error {
	if s.config.MaxRecords <= 0 {
		return nil
	}

	var count int64
	if err := tx.Model(&memoryRow{}).Count(&count).Error; err != nil {
		return err
	}
	excess := int(count) - s.config.MaxRecords
	if excess <= 0 {
		return nil
	}

	var victims []string
	err := tx.Model(&memoryRow{}).
		Order("last_retrieved asc, created_at asc, id asc").
		Limit(excess).
		Pluck("id", &victims).Error
	if err != nil {
		return err
	}
	return tx.Delete(&memoryRow{}, "id IN ?", victims).Error
}

// Retrieve implements Store.Retrieve.
func (s *SQLiteStore) Retrieve(ctx context.Context, query Query) ([]*types.MemoryRecord, error) {
	now := s.config.Now()
	if err := s.purgeExpired(ctx, now); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(&memoryRow{})
	if len(query.Categories) > 0 {
		cats := make([]string, len(query.Categories))
		for i, c := range query.Categories {
			cats[i] = string(c)
		}
		q = q.Where("category IN ?", cats)
	}

	var rows []memoryRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to query memory records").WithCause(err)
	}

	candidates := make([]*types.MemoryRecord, 0, len(rows))
	for i := range rows {
		r, err := fromRow(&rows[i])
		if err != nil {
			s.logger.Warn("skipping undecodable memory record", zap.String("record_id", rows[i].ID), zap.Error(err))
			continue
		}
		candidates = append(candidates, r)
	}

	matched := rank(candidates, query)

	if len(matched) > 0 {
		ids := make([]string, len(matched))
		for i, r := range matched {
			ids[i] = r.ID
		}
		err := s.db.WithContext(ctx).Model(&memoryRow{}).
			Where("id IN ?", ids).
			Update("last_retrieved", now).Error
		if err != nil {
			return nil, types.NewError(types.ErrMemoryBackend, "failed to update retrieval recency").WithCause(err)
		}
	}

	return matched, nil
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	var row memoryRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to load memory record").WithCause(err)
	}

	if s.config.TTL > 0 && s.config.Now().Sub(row.CreatedAt) > s.config.TTL {
		return nil, nil
	}
	return fromRow(&row)
}

// Delete implements Store.Delete.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Delete(&memoryRow{}, "id = ?", id).Error
	if err != nil {
		return types.NewError(types.ErrMemoryBackend, "failed to delete memory record").WithCause(err)
	}
	return nil
}

// Evict implements Store.Evict.
func (s *SQLiteStore) Evict(ctx context.Context) error {
	if err := s.purgeExpired(ctx, s.config.Now()); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(s.evictLocked)
	if err != nil {
		return types.NewError(types.ErrMemoryBackend, "failed to evict memory records").WithCause(err)
	}
	return nil
}

// Size implements Store.Size.
func (s *SQLiteStore) Size(ctx context.Context) (int, error) {
	if err := s.purgeExpired(ctx, s.config.Now()); err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&memoryRow{}).Count(&count).Error; err != nil {
		return 0, types.NewError(types.ErrMemoryBackend, "failed to count memory records").WithCause(err)
	}
	return int(count), nil
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (s *SQLiteStore) purgeExpired(ctx context.Context, now time.Time) error {
	if s.config.TTL <= 0 {
		return nil
	}
	cutoff := now.Add(-s.config.TTL)
	err := s.db.WithContext(ctx).Delete(&memoryRow{}, "created_at < ?", cutoff).Error
	if err != nil {
		return types.NewError(types.ErrMemoryBackend, "failed to purge expired memory records").WithCause(err)
	}
	return nil
}

func toRow(r *types.MemoryRecord, now time.Time) (*memoryRow, error) {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to encode record tags").WithCause(err)
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, types.NewError(types.ErrMemoryBackend, "failed to encode record metadata").WithCause(err)
	}
	return &memoryRow{
		ID:            r.ID,
		Category:      string(r.Category),
		Content:       r.Content,
		Tags:          string(tags),
		Metadata:      string(meta),
		CreatedAt:     r.CreatedAt,
		LastRetrieved: now,
	}, nil
}

func fromRow(row *memoryRow) (*types.MemoryRecord, error) {
	r := &types.MemoryRecord{
		ID:        row.ID,
		Category:  types.MemoryCategory(row.Category),
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &r.Tags); err != nil {
			return nil, types.NewError(types.ErrMemoryBackend, "failed to decode record tags").WithCause(err)
		}
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &r.Metadata); err != nil {
			return nil, types.NewError(types.ErrMemoryBackend, "failed to decode record metadata").WithCause(err)
		}
	}
	return r, nil
}
