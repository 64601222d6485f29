package config

import (
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config interface {
	EnvConfig
	StoreConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetAPIBaseURL() string
	GetShellPort() string
}

type mainConfig struct {
	EnvVars
	Store
	Session
}

var dotEnvOnce sync.Once

// New loads the optional .env files (default ".env") into the process environment and
// returns a Config whose getters read from it.
func New(envFiles ...string) Config {
	dotEnvOnce.Do(func() {
		if err := godotenv.Load(envFiles...); err != nil {
			log.Debug().Err(err).Msg("no .env file loaded, using process environment")
		}
	})
	return mainConfig{}
}
