package tokenstore

import (
	"context"
	"fmt"
	"time"
)

// KV is the persistence backend behind a TokenStore. Multi-key writes must be atomic:
// readers never observe some of the values of a SetMany call without the others.
type KV interface {
	// GetMany returns the values present for keys. Missing keys are absent from the map.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	// SetMany writes every value in one atomic step
	SetMany(ctx context.Context, values map[string]string) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// CompareAndSet writes values only if guardKey currently holds guardValue
	CompareAndSet(ctx context.Context, guardKey, guardValue string, values map[string]string) (bool, error)
	Close(ctx context.Context) error
}

// Driver identifiers
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config describes the backend selection parameters.
type Config struct {
	Driver string
	File   *FileConfig
	Redis  *RedisConfig
	SQLite *SQLiteConfig
}

// FileConfig locates the JSON document used by the file driver.
type FileConfig struct {
	Path string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// SQLiteConfig holds the database location.
type SQLiteConfig struct {
	DSN string
}

// OpenKV creates a KV backend based on the provided configuration.
func OpenKV(cfg Config) (KV, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		if cfg.File == nil || cfg.File.Path == "" {
			return nil, fmt.Errorf("file driver requires a path")
		}
		return NewFile(cfg.File.Path)
	case DriverRedis:
		return NewRedis(cfg.Redis)
	case DriverSQLite:
		return OpenSQLite(cfg.SQLite)
	default:
		return nil, fmt.Errorf("unsupported token store driver: %s", driver)
	}
}
