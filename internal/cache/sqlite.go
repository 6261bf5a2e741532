package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type cacheEntry struct {
	Key              string `gorm:"column:key;primaryKey;size:190;not null"`
	ValueJSON        string `gorm:"column:value_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (cacheEntry) TableName() string {
	return "cache_entries"
}

// OpenSQLite establishes a SQLite connection and migrates the cache schema.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("cache database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&cacheEntry{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("cache database initialized", zap.String("path", path))
	}

	return db, nil
}

// SQLiteStore persists cache entries in a local SQLite database.
type SQLiteStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLiteStore wraps an open database handle as a cache store.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("cache: database handle is required")
	}
	return &SQLiteStore{db: db, clock: time.Now}, nil
}

// Get returns the stored value for key, or ErrKeyNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	var entry cacheEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(entry.ValueJSON), nil
}

// Set stores value under key, replacing any prior value atomically.
func (s *SQLiteStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return ErrEmptyKey
	}
	entry := cacheEntry{
		Key:              key,
		ValueJSON:        string(value),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value_json", "updated_at_s"}),
		}).
		Create(&entry).Error
}

// Delete removes the value stored under key. Deleting an absent key succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&cacheEntry{}).Error
}

// ListKeys returns every stored key in lexical order.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).
		Model(&cacheEntry{}).
		Order("key ASC").
		Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
