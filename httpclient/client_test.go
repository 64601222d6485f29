package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-dashboard-session/backend"
	"github.com/jrsteele09/go-dashboard-session/backend/backendfake"
	"github.com/jrsteele09/go-dashboard-session/httpclient"
	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/tokenstore"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/stretchr/testify/require"
)

const (
	email    = "operator@example.com"
	password = "Harbour#2024"
)

type fakeExpirer struct {
	calls atomic.Int64
}

func (f *fakeExpirer) ForceExpire(context.Context) {
	f.calls.Add(1)
}

type refresherFunc func(ctx context.Context, refreshToken string) (string, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return f(ctx, refreshToken)
}

type fixture struct {
	fake    *backendfake.Server
	api     *backend.Client
	store   *tokenstore.TokenStore
	expirer *fakeExpirer
	client  *httpclient.Client
}

// newFixture logs in against the fake and stores a pair whose access token has already expired
func newFixture(t *testing.T, options ...backendfake.Option) *fixture {
	t.Helper()
	fake := backendfake.New(options...)
	_, err := fake.AddUser(email, password, "operator")
	require.NoError(t, err)
	srv := fake.Start()
	t.Cleanup(srv.Close)

	api := backend.New(srv.URL)
	resp, err := api.Login(context.Background(), users.Credentials{Email: email, Password: password})
	require.NoError(t, err)
	expired, err := fake.IssueAccessToken(email, -time.Minute)
	require.NoError(t, err)

	store := tokenstore.New(tokenstore.NewMemory())
	require.NoError(t, store.Save(context.Background(), token.Pair{AccessToken: expired, RefreshToken: resp.Refresh}))

	expirer := &fakeExpirer{}
	client := httpclient.New(srv.URL, store, api, httpclient.WithExpirer(expirer))
	return &fixture{fake: fake, api: api, store: store, expirer: expirer, client: client}
}

func TestAttachesBearerAndRequestID(t *testing.T) {
	var gotAuth, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get(httpclient.RequestIDHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := tokenstore.New(tokenstore.NewMemory())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, token.Pair{AccessToken: "a-1", RefreshToken: "r-1"}))
	client := httpclient.New(srv.URL, store, refresherFunc(func(context.Context, string) (string, error) {
		t.Fatal("refresh not expected")
		return "", nil
	}))

	require.NoError(t, client.GetJSON(ctx, "/api/ping/", nil))
	require.Equal(t, "Bearer a-1", gotAuth)
	require.NotEmpty(t, gotRequestID)

	// The token is read per call, never cached.
	require.NoError(t, store.Save(ctx, token.Pair{AccessToken: "a-2", RefreshToken: "r-1"}))
	require.NoError(t, client.GetJSON(ctx, "/api/ping/", nil))
	require.Equal(t, "Bearer a-2", gotAuth)
}

func TestSilentRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before, err := f.store.Read(ctx)
	require.NoError(t, err)

	var vessels []backendfake.Vessel
	require.NoError(t, f.client.GetJSON(ctx, backendfake.VesselsPath, &vessels))
	require.Len(t, vessels, 2)

	require.EqualValues(t, 1, f.fake.RefreshCalls())
	require.EqualValues(t, 2, f.fake.ResourceCalls())
	require.Zero(t, f.expirer.calls.Load())

	after, err := f.store.Read(ctx)
	require.NoError(t, err)
	require.NotEqual(t, before.AccessToken, after.AccessToken)
	require.Equal(t, before.RefreshToken, after.RefreshToken)

	// The refreshed token is used directly from now on.
	require.NoError(t, f.client.GetJSON(ctx, backendfake.VesselsPath, &vessels))
	require.EqualValues(t, 1, f.fake.RefreshCalls())
}

func TestConcurrentFailuresShareOneRefresh(t *testing.T) {
	f := newFixture(t, backendfake.WithRefreshDelay(100*time.Millisecond))
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var vessels []backendfake.Vessel
			errs[i] = f.client.GetJSON(ctx, backendfake.VesselsPath, &vessels)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.fake.RefreshCalls())
	require.Zero(t, f.expirer.calls.Load())
}

func TestRevokedRefreshExpiresSession(t *testing.T) {
	f := newFixture(t)
	f.fake.RevokeRefreshTokens()
	ctx := context.Background()

	err := f.client.GetJSON(ctx, backendfake.VesselsPath, nil)
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.EqualValues(t, 1, f.expirer.calls.Load())

	pair, err := f.store.Read(ctx)
	require.NoError(t, err)
	require.Nil(t, pair)
}

func TestConcurrentRevokedRefreshExpiresOnce(t *testing.T) {
	f := newFixture(t, backendfake.WithRefreshDelay(200*time.Millisecond))
	f.fake.RevokeRefreshTokens()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.client.GetJSON(ctx, backendfake.VesselsPath, nil)
			require.ErrorIs(t, err, autherrors.ErrSessionExpired)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, f.fake.RefreshCalls())
	require.EqualValues(t, 1, f.expirer.calls.Load())
}

func TestRetriesExactlyOnce(t *testing.T) {
	var resourceCalls, refreshCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/api/always-401/", func(w http.ResponseWriter, r *http.Request) {
		resourceCalls.Add(1)
		http.Error(w, `{"detail":"nope"}`, http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	store := tokenstore.New(tokenstore.NewMemory())
	require.NoError(t, store.Save(ctx, token.Pair{AccessToken: "a-1", RefreshToken: "r-1"}))
	expirer := &fakeExpirer{}
	client := httpclient.New(srv.URL, store, refresherFunc(func(context.Context, string) (string, error) {
		refreshCalls.Add(1)
		return "a-2", nil
	}), httpclient.WithExpirer(expirer))

	err := client.GetJSON(ctx, "/api/always-401/", nil)
	var apiErr *httpclient.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Contains(t, apiErr.Error(), "nope")

	require.EqualValues(t, 2, resourceCalls.Load())
	require.EqualValues(t, 1, refreshCalls.Load())
	require.Zero(t, expirer.calls.Load())
}

func TestBodyReplayedOnRetry(t *testing.T) {
	f := newFixture(t)
	var echoed map[string]any
	require.NoError(t, f.client.PostJSON(context.Background(), backendfake.EchoPath, map[string]any{"vessel": "Nordic Aurora"}, &echoed))
	require.Equal(t, "Nordic Aurora", echoed["vessel"])
	require.EqualValues(t, 1, f.fake.RefreshCalls())
}

func TestNoTokensExpiresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Clear(ctx))

	err := f.client.GetJSON(ctx, backendfake.VesselsPath, nil)
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.EqualValues(t, 1, f.expirer.calls.Load())
	require.Zero(t, f.fake.RefreshCalls())
}

// racingStore hands renew a stale pair while another caller's refresh lands in the real store
type racingStore struct {
	*tokenstore.TokenStore
	reads   atomic.Int64
	onRead2 func()
}

func (s *racingStore) Read(ctx context.Context) (*token.Pair, error) {
	pair, err := s.TokenStore.Read(ctx)
	if s.reads.Add(1) == 2 {
		s.onRead2()
	}
	return pair, err
}

func TestRefreshSkippedWhenAnotherCallerJustRefreshed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fresh, err := f.fake.IssueAccessToken(email, time.Minute)
	require.NoError(t, err)

	store := &racingStore{TokenStore: f.store}
	store.onRead2 = func() {
		pair, err := f.store.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, f.store.Save(ctx, pair.WithAccessToken(fresh)))
	}
	client := httpclient.New(f.api.BaseURL(), store, f.api, httpclient.WithExpirer(f.expirer))

	var vessels []backendfake.Vessel
	require.NoError(t, client.GetJSON(ctx, backendfake.VesselsPath, &vessels))
	require.Len(t, vessels, 2)
	require.Zero(t, f.fake.RefreshCalls())
	require.EqualValues(t, 2, f.fake.ResourceCalls())
}

func TestLogoutDuringRequestDoesNotExpire(t *testing.T) {
	f := newFixture(t, backendfake.WithResourceDelay(100*time.Millisecond))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- f.client.GetJSON(ctx, backendfake.VesselsPath, nil)
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, f.store.Clear(ctx))

	require.ErrorIs(t, <-done, autherrors.ErrSessionExpired)
	require.Zero(t, f.expirer.calls.Load())
	require.Zero(t, f.fake.RefreshCalls())
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	ctx := context.Background()
	store := tokenstore.New(tokenstore.NewMemory())
	require.NoError(t, store.Save(ctx, token.Pair{AccessToken: "a-1", RefreshToken: "r-1"}))
	expirer := &fakeExpirer{}
	client := httpclient.New(srv.URL, store, backend.New(srv.URL), httpclient.WithExpirer(expirer))

	err := client.GetJSON(ctx, "/api/vessels/", nil)
	require.ErrorIs(t, err, autherrors.ErrNetwork)

	pair, err := store.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)
	require.Zero(t, expirer.calls.Load())
}

func TestRefreshNetworkFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := httpclient.New(f.api.BaseURL(), f.store, refresherFunc(func(context.Context, string) (string, error) {
		return "", autherrors.Wrapf(autherrors.ErrNetwork, "refresh")
	}), httpclient.WithExpirer(f.expirer))

	err := client.GetJSON(ctx, backendfake.VesselsPath, nil)
	require.ErrorIs(t, err, autherrors.ErrNetwork)
	require.Zero(t, f.expirer.calls.Load())

	pair, err := f.store.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)
}

func TestLogoutDuringRefreshDoesNotResurrectTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	client := httpclient.New(f.api.BaseURL(), f.store, refresherFunc(func(ctx context.Context, refreshToken string) (string, error) {
		close(started)
		<-release
		return f.api.Refresh(ctx, refreshToken)
	}), httpclient.WithExpirer(f.expirer))

	done := make(chan error, 1)
	go func() {
		done <- client.GetJSON(ctx, backendfake.VesselsPath, nil)
	}()

	<-started
	require.NoError(t, f.store.Clear(ctx))
	close(release)

	err := <-done
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Zero(t, f.expirer.calls.Load())

	pair, err := f.store.Read(ctx)
	require.NoError(t, err)
	require.Nil(t, pair)
}

func TestCancelledCallerDoesNotCancelSharedRefresh(t *testing.T) {
	f := newFixture(t, backendfake.WithRefreshDelay(100*time.Millisecond))

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.client.GetJSON(first, backendfake.VesselsPath, nil)
	}()

	// Let the first caller start the refresh, then join it with a second caller.
	time.Sleep(30 * time.Millisecond)
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- f.client.GetJSON(context.Background(), backendfake.VesselsPath, nil)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, <-secondDone)
	<-firstDone
	require.EqualValues(t, 1, f.fake.RefreshCalls())
	require.Zero(t, f.expirer.calls.Load())
}

func TestFetchIdentity(t *testing.T) {
	f := newFixture(t)
	identity, err := f.client.FetchIdentity(context.Background())
	require.NoError(t, err)
	require.Equal(t, users.NewIdentity(email, "operator"), identity)
	require.EqualValues(t, 1, f.fake.MeCalls())
}
