package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// KVEntry is one persisted key.
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string {
	return "kv_entries"
}

type sqliteKV struct {
	db *gorm.DB
}

// OpenSQLite opens the database at cfg.DSN and migrates the kv_entries table.
func OpenSQLite(cfg *SQLiteConfig) (KV, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite driver requires a dsn")
	}
	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewSQLite(db)
}

// NewSQLite builds a SQLite-backed store on an existing handle.
func NewSQLite(db *gorm.DB) (KV, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, fmt.Errorf("auto migrate kv_entries: %w", err)
	}
	return &sqliteKV{db: db}, nil
}

func (s *sqliteKV) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	var entries []KVEntry
	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("sqliteKV.GetMany: %w", err)
	}
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	return values, nil
}

func upsert(tx *gorm.DB, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now()
	entries := make([]KVEntry, 0, len(values))
	for k, v := range values {
		entries = append(entries, KVEntry{Key: k, Value: v, UpdatedAt: now})
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entries).Error
}

func (s *sqliteKV) SetMany(ctx context.Context, values map[string]string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsert(tx, values)
	})
	if err != nil {
		return fmt.Errorf("sqliteKV.SetMany: %w", err)
	}
	return nil
}

func (s *sqliteKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Delete(&KVEntry{}).Error; err != nil {
		return fmt.Errorf("sqliteKV.Delete: %w", err)
	}
	return nil
}

func (s *sqliteKV) CompareAndSet(ctx context.Context, guardKey, guardValue string, values map[string]string) (bool, error) {
	swapped := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var guard KVEntry
		err := tx.Where("key = ?", guardKey).First(&guard).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if guard.Value != guardValue {
			return nil
		}
		if err := upsert(tx, values); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("sqliteKV.CompareAndSet: %w", err)
	}
	return swapped, nil
}

func (s *sqliteKV) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
