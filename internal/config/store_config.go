package config

import (
	"os"
	"path/filepath"
)

type StoreConfig interface {
	GetTokenStoreDriver() string
	GetTokenStorePath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
	GetSQLiteDSN() string
}

type Store struct{}

var _ StoreConfig = Store{}

// GetTokenStoreDriver returns one of memory, file, redis or sqlite.
func (Store) GetTokenStoreDriver() string {
	return GetEnv("TOKEN_STORE_DRIVER", "file")
}

func (Store) GetTokenStorePath() string {
	if path := os.Getenv("TOKEN_STORE_PATH"); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "maritime-ops", "session.json")
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "127.0.0.1:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}

func (Store) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "dashboard:")
}

func (Store) GetSQLiteDSN() string {
	return GetEnv("SQLITE_DSN", "session.db")
}
