package tokenstore

import (
	"context"
	"encoding/json"

	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Canonical keys. Nothing else is ever written.
const (
	KeyAccessToken  = "auth.accessToken"
	KeyRefreshToken = "auth.refreshToken"
	KeyIdentity     = "auth.identity"
)

// legacyKeys were written by older dashboard builds. They are removed on Clear and never read.
var legacyKeys = []string{"access", "access_token", "refresh", "refresh_token", "user", "role"}

// TokenStore persists the current token pair and the cached identity.
// Only the session and the request pipeline's failure protocol write to it.
type TokenStore struct {
	kv KV
}

func New(kv KV) *TokenStore {
	return &TokenStore{kv: kv}
}

// Open builds a TokenStore on the backend described by cfg
func Open(cfg Config) (*TokenStore, error) {
	kv, err := OpenKV(cfg)
	if err != nil {
		return nil, err
	}
	return New(kv), nil
}

// Save writes both halves of pair in one step. Incomplete pairs are rejected.
func (s *TokenStore) Save(ctx context.Context, pair token.Pair) error {
	if !pair.IsComplete() {
		return errors.New("TokenStore.Save: token pair must carry both access and refresh tokens")
	}
	return errors.Wrap(s.kv.SetMany(ctx, pairValues(pair)), "TokenStore.Save")
}

// SaveSession writes the pair and the identity together
func (s *TokenStore) SaveSession(ctx context.Context, pair token.Pair, identity users.Identity) error {
	if !pair.IsComplete() {
		return errors.New("TokenStore.SaveSession: token pair must carry both access and refresh tokens")
	}
	values := pairValues(pair)
	encoded, err := json.Marshal(identity)
	if err != nil {
		return errors.Wrap(err, "TokenStore.SaveSession Marshal")
	}
	values[KeyIdentity] = string(encoded)
	return errors.Wrap(s.kv.SetMany(ctx, values), "TokenStore.SaveSession")
}

func pairValues(pair token.Pair) map[string]string {
	return map[string]string{
		KeyAccessToken:  pair.AccessToken,
		KeyRefreshToken: pair.RefreshToken,
	}
}

// Read returns the stored pair, or nil when absent. A half-present pair reads as absent.
func (s *TokenStore) Read(ctx context.Context) (*token.Pair, error) {
	values, err := s.kv.GetMany(ctx, KeyAccessToken, KeyRefreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "TokenStore.Read")
	}
	pair := token.Pair{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}
	if !pair.IsComplete() {
		if pair.AccessToken != "" || pair.RefreshToken != "" {
			log.Warn().Msg("token store holds half a token pair, treating as signed out")
		}
		return nil, nil
	}
	return &pair, nil
}

// Clear removes the pair, the identity and every legacy alias
func (s *TokenStore) Clear(ctx context.Context) error {
	keys := append([]string{KeyAccessToken, KeyRefreshToken, KeyIdentity}, legacyKeys...)
	return errors.Wrap(s.kv.Delete(ctx, keys...), "TokenStore.Clear")
}

func (s *TokenStore) SaveIdentity(ctx context.Context, identity users.Identity) error {
	encoded, err := json.Marshal(identity)
	if err != nil {
		return errors.Wrap(err, "TokenStore.SaveIdentity Marshal")
	}
	return errors.Wrap(s.kv.SetMany(ctx, map[string]string{KeyIdentity: string(encoded)}), "TokenStore.SaveIdentity")
}

// ReadIdentity returns the cached identity, or nil when absent or unreadable.
func (s *TokenStore) ReadIdentity(ctx context.Context) (*users.Identity, error) {
	values, err := s.kv.GetMany(ctx, KeyIdentity)
	if err != nil {
		return nil, errors.Wrap(err, "TokenStore.ReadIdentity")
	}
	raw, ok := values[KeyIdentity]
	if !ok || raw == "" {
		return nil, nil
	}

	var stored struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		log.Warn().Err(err).Msg("cached identity is unreadable, ignoring it")
		return nil, nil
	}
	identity := users.NewIdentity(stored.Email, stored.Role)
	if identity.IsZero() {
		return nil, nil
	}
	return &identity, nil
}

// ReplaceAccessToken stores accessToken only if refreshToken is still the stored refresh token.
// It reports false when the store was cleared or replaced since the refresh began.
func (s *TokenStore) ReplaceAccessToken(ctx context.Context, refreshToken, accessToken string) (bool, error) {
	if refreshToken == "" || accessToken == "" {
		return false, nil
	}
	swapped, err := s.kv.CompareAndSet(ctx, KeyRefreshToken, refreshToken, map[string]string{KeyAccessToken: accessToken})
	if err != nil {
		return false, errors.Wrap(err, "TokenStore.ReplaceAccessToken")
	}
	return swapped, nil
}

func (s *TokenStore) Close(ctx context.Context) error {
	return s.kv.Close(ctx)
}

// ConfigFromEnv maps the environment-driven store settings onto a backend Config
func ConfigFromEnv(cfg config.StoreConfig) Config {
	return Config{
		Driver: cfg.GetTokenStoreDriver(),
		File:   &FileConfig{Path: cfg.GetTokenStorePath()},
		Redis: &RedisConfig{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Prefix:   cfg.GetRedisPrefix(),
		},
		SQLite: &SQLiteConfig{DSN: cfg.GetSQLiteDSN()},
	}
}
