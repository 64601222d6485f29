package config

import "time"

type SessionConfig interface {
	GetRequestTimeout() time.Duration
	GetRefreshTimeout() time.Duration
	GetResolveTimeout() time.Duration
	GetJWKSURL() string
	GetTokenIssuer() string
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetRequestTimeout() time.Duration {
	return GetEnvDuration("REQUEST_TIMEOUT", 30*time.Second)
}

// GetRefreshTimeout bounds the shared refresh call, which outlives the request that triggered it.
func (Session) GetRefreshTimeout() time.Duration {
	return GetEnvDuration("REFRESH_TIMEOUT", 10*time.Second)
}

// GetResolveTimeout bounds the initial identity resolution at startup.
func (Session) GetResolveTimeout() time.Duration {
	return GetEnvDuration("RESOLVE_TIMEOUT", 10*time.Second)
}

// GetJWKSURL enables access token signature verification when set.
func (Session) GetJWKSURL() string {
	return GetEnv("JWKS_URL", "")
}

func (Session) GetTokenIssuer() string {
	return GetEnv("TOKEN_ISSUER", "")
}
