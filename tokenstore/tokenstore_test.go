package tokenstore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/tokenstore"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/stretchr/testify/require"
)

var samplePair = token.Pair{AccessToken: "access-1", RefreshToken: "refresh-1"}

type backendFactory func(t *testing.T) tokenstore.KV

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		tokenstore.DriverMemory: func(t *testing.T) tokenstore.KV {
			return tokenstore.NewMemory()
		},
		tokenstore.DriverFile: func(t *testing.T) tokenstore.KV {
			kv, err := tokenstore.NewFile(filepath.Join(t.TempDir(), "nested", "session.json"))
			require.NoError(t, err)
			return kv
		},
		tokenstore.DriverRedis: func(t *testing.T) tokenstore.KV {
			mr, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(mr.Close)
			kv, err := tokenstore.NewRedis(&tokenstore.RedisConfig{Addr: mr.Addr(), Prefix: "test:"})
			require.NoError(t, err)
			return kv
		},
		tokenstore.DriverSQLite: func(t *testing.T) tokenstore.KV {
			dsn := fmt.Sprintf("file:tokenstore-%d?mode=memory&cache=shared", time.Now().UnixNano())
			kv, err := tokenstore.OpenSQLite(&tokenstore.SQLiteConfig{DSN: dsn})
			require.NoError(t, err)
			return kv
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store *tokenstore.TokenStore, kv tokenstore.KV)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			kv := factory(t)
			store := tokenstore.New(kv)
			t.Cleanup(func() { _ = store.Close(context.Background()) })
			fn(t, store, kv)
		})
	}
}

func TestSaveAndRead(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *tokenstore.TokenStore, kv tokenstore.KV) {
		ctx := context.Background()

		pair, err := store.Read(ctx)
		require.NoError(t, err)
		require.Nil(t, pair)

		require.NoError(t, store.Save(ctx, samplePair))
		pair, err = store.Read(ctx)
		require.NoError(t, err)
		require.NotNil(t, pair)
		require.Equal(t, samplePair, *pair)

		require.Error(t, store.Save(ctx, token.Pair{AccessToken: "only-access"}))
		pair, err = store.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, samplePair, *pair)
	})
}

func TestHalfPairReadsAsAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *tokenstore.TokenStore, kv tokenstore.KV) {
		ctx := context.Background()
		require.NoError(t, kv.SetMany(ctx, map[string]string{tokenstore.KeyAccessToken: "orphan"}))

		pair, err := store.Read(ctx)
		require.NoError(t, err)
		require.Nil(t, pair)
	})
}

func TestIdentity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *tokenstore.TokenStore, kv tokenstore.KV) {
		ctx := context.Background()

		identity, err := store.ReadIdentity(ctx)
		require.NoError(t, err)
		require.Nil(t, identity)

		saved := users.NewIdentity("ops@example.com", "operator")
		require.NoError(t, store.SaveIdentity(ctx, saved))
		identity, err = store.ReadIdentity(ctx)
		require.NoError(t, err)
		require.Equal(t, saved, *identity)

		require.NoError(t, kv.SetMany(ctx, map[string]string{tokenstore.KeyIdentity: "{not json"}))
		identity, err = store.ReadIdentity(ctx)
		require.NoError(t, err)
		require.Nil(t, identity)
	})
}

func TestSaveSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *tokenstore.TokenStore, kv tokenstore.KV) {
		ctx := context.Background()
		identity := users.NewIdentity("admin@example.com", "admin")
		require.NoError(t, store.SaveSession(ctx, samplePair, identity))

		pair, err := store.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, samplePair, *pair)
		stored, err := store.ReadIdentity(ctx)
		require.NoError(t, err)
		require.Equal(t, identity, *stored)

		require.Error(t, store.SaveSession(ctx, token.Pair{RefreshToken: "r"}, identity))
	})
}

func TestClearRemovesLegacyKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *tokenstore.TokenStore, kv tokenstore.KV) {
		ctx := context.Background()
		legacy := map[string]string{
			"access":        "a",
			"access_token":  "a",
			"refresh":       "r",
			"refresh_token": "r",
			"user":          `{"email":"old@example.com"}`,
			"role":          "admin",
		}
		require.NoError(t, kv.SetMany(ctx, legacy))
		require.NoError(t, store.SaveSession(ctx, samplePair, users.NewIdentity("ops@example.com", "operator")))

		require.NoError(t, store.Clear(ctx))

		pair, err := store.Read(ctx)
		require.NoError(t, err)
		require.Nil(t, pair)
		identity, err := store.ReadIdentity(ctx)
		require.NoError(t, err)
		require.Nil(t, identity)

		keys := []string{tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken, tokenstore.KeyIdentity}
		for k := range legacy {
			keys = append(keys, k)
		}
		remaining, err := kv.GetMany(ctx, keys...)
		require.NoError(t, err)
		require.Empty(t, remaining)

		require.NoError(t, store.Clear(ctx))
	})
}

func TestLegacyKeysAreNeverRead(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *tokenstore.TokenStore, kv tokenstore.KV) {
		ctx := context.Background()
		require.NoError(t, kv.SetMany(ctx, map[string]string{
			"access_token":  "legacy-access",
			"refresh_token": "legacy-refresh",
			"role":          "admin",
		}))
		pair, err := store.Read(ctx)
		require.NoError(t, err)
		require.Nil(t, pair)
		identity, err := store.ReadIdentity(ctx)
		require.NoError(t, err)
		require.Nil(t, identity)
	})
}

func TestReplaceAccessToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *tokenstore.TokenStore, kv tokenstore.KV) {
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, samplePair))

		swapped, err := store.ReplaceAccessToken(ctx, samplePair.RefreshToken, "access-2")
		require.NoError(t, err)
		require.True(t, swapped)
		pair, err := store.Read(ctx)
		require.NoError(t, err)
		require.Equal(t, samplePair.WithAccessToken("access-2"), *pair)

		swapped, err = store.ReplaceAccessToken(ctx, "some-other-refresh", "access-3")
		require.NoError(t, err)
		require.False(t, swapped)

		// A refresh landing after logout must not resurrect the session.
		require.NoError(t, store.Clear(ctx))
		swapped, err = store.ReplaceAccessToken(ctx, samplePair.RefreshToken, "access-4")
		require.NoError(t, err)
		require.False(t, swapped)
		pair, err = store.Read(ctx)
		require.NoError(t, err)
		require.Nil(t, pair)
		values, err := kv.GetMany(ctx, tokenstore.KeyAccessToken)
		require.NoError(t, err)
		require.Empty(t, values)
	})
}

func TestConcurrentWritersNeverTearThePair(t *testing.T) {
	store := tokenstore.New(tokenstore.NewMemory())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = store.Save(ctx, token.Pair{AccessToken: fmt.Sprintf("a-%d", i), RefreshToken: fmt.Sprintf("r-%d", i)})
		}(i)
		go func() {
			defer wg.Done()
			pair, err := store.Read(ctx)
			require.NoError(t, err)
			if pair != nil {
				require.Equal(t, pair.AccessToken[2:], pair.RefreshToken[2:])
			}
		}()
	}
	wg.Wait()
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	kv, err := tokenstore.NewFile(path)
	require.NoError(t, err)
	require.NoError(t, tokenstore.New(kv).Save(ctx, samplePair))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := tokenstore.NewFile(path)
	require.NoError(t, err)
	pair, err := tokenstore.New(reopened).Read(ctx)
	require.NoError(t, err)
	require.Equal(t, samplePair, *pair)
}

func TestOpenKV(t *testing.T) {
	kv, err := tokenstore.OpenKV(tokenstore.Config{})
	require.NoError(t, err)
	require.NotNil(t, kv)

	_, err = tokenstore.OpenKV(tokenstore.Config{Driver: tokenstore.DriverFile})
	require.Error(t, err)

	_, err = tokenstore.OpenKV(tokenstore.Config{Driver: "etcd"})
	require.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	store, err := tokenstore.Open(tokenstore.Config{Driver: tokenstore.DriverRedis, Redis: &tokenstore.RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), samplePair))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TOKEN_STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_DSN", "custom.db")
	t.Setenv("REDIS_PREFIX", "ops:")

	cfg := tokenstore.ConfigFromEnv(config.Store{})
	require.Equal(t, tokenstore.DriverSQLite, cfg.Driver)
	require.Equal(t, "custom.db", cfg.SQLite.DSN)
	require.Equal(t, "ops:", cfg.Redis.Prefix)
}
