// Package httpclient is the outbound request pipeline for protected backend endpoints.
// It attaches the stored access token to every request and recovers from expired
// access tokens with a single shared refresh.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-dashboard-session/backend"
	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	RequestIDHeader = "X-Request-ID"
	contentTypeJSON = "application/json"
	maxErrorBody    = 64 << 10
)

// Store is the part of the token store the pipeline reads and, on refresh, writes.
type Store interface {
	Read(ctx context.Context) (*token.Pair, error)
	ReplaceAccessToken(ctx context.Context, refreshToken, accessToken string) (bool, error)
	Clear(ctx context.Context) error
}

// Refresher redeems a refresh token for a new access token
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Expirer is told when the session cannot be recovered locally
type Expirer interface {
	ForceExpire(ctx context.Context)
}

// APIError is a non-2xx response from a JSON helper
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	if detail := backend.ErrorDetail(e.Body); detail != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, detail)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

type Client struct {
	baseURL        string
	httpClient     *http.Client
	store          Store
	refresher      Refresher
	refreshTimeout time.Duration

	refreshGroup singleflight.Group

	expirer      Expirer
	expirerMutex sync.RWMutex
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithRefreshTimeout bounds the shared refresh call, which runs detached from any single caller
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.refreshTimeout = timeout
	}
}

func WithExpirer(expirer Expirer) Option {
	return func(c *Client) {
		c.expirer = expirer
	}
}

func New(baseURL string, store Store, refresher Refresher, options ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		store:          store,
		refresher:      refresher,
		refreshTimeout: 10 * time.Second,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// SetExpirer registers the session once it exists. The session and the client refer to
// each other, so one of them has to be attached after construction.
func (c *Client) SetExpirer(expirer Expirer) {
	c.expirerMutex.Lock()
	defer c.expirerMutex.Unlock()
	c.expirer = expirer
}

// NewRequest builds a request for path relative to the base URL. A non-nil body is sent as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, autherrors.Wrapf(err, "[Client NewRequest] marshal body")
		}
		reader = bytes.NewReader(payload)
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	return req, nil
}

// Do sends req with the current access token. On a 401 it retries exactly once, after a
// shared refresh if no other caller has already replaced the token. When the session cannot
// be recovered the store is cleared, the session is expired and ErrSessionExpired is returned.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := makeReplayable(req); err != nil {
		return nil, err
	}

	pair, err := c.store.Read(ctx)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[Client Do] read tokens")
	}
	var sent string
	if pair != nil {
		sent = pair.AccessToken
	}

	resp, err := c.send(req, sent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	access, err := c.renew(ctx, sent)
	if err != nil {
		return nil, err
	}
	return c.send(req, access)
}

// renew returns the access token to retry with
func (c *Client) renew(ctx context.Context, sent string) (string, error) {
	current, err := c.store.Read(ctx)
	if err != nil {
		return "", autherrors.Wrapf(err, "[Client renew] read tokens")
	}
	if current == nil {
		// A request sent with a token whose pair is gone lost a race with logout. There is
		// nothing left to clear and the user already left the session.
		if sent == "" {
			c.expire(ctx, "no refresh token available")
		}
		return "", autherrors.ErrSessionExpired
	}
	if current.AccessToken != sent {
		return current.AccessToken, nil
	}

	refreshToken := current.RefreshToken
	v, err, shared := c.refreshGroup.Do(refreshToken, func() (any, error) {
		// A refresh for this token may have completed between the read above and this call.
		latest, err := c.store.Read(context.WithoutCancel(ctx))
		if err != nil {
			return "", autherrors.Wrapf(err, "[Client renew] read tokens")
		}
		if latest == nil {
			return "", autherrors.Wrapf(autherrors.ErrSessionExpired, "[Client renew] session changed")
		}
		if latest.AccessToken != sent {
			return latest.AccessToken, nil
		}
		return c.refresh(ctx, refreshToken)
	})
	if err != nil {
		return "", err
	}
	log.Debug().Bool("shared", shared).Msg("access token refreshed")
	return v.(string), nil
}

// refresh runs once per refresh token however many callers are waiting on it
func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	access, err := c.refresher.Refresh(refreshCtx, refreshToken)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNetwork) {
			return "", err
		}
		log.Err(err).Msg("refresh rejected")
		c.expire(refreshCtx, "refresh rejected")
		return "", autherrors.Wrapf(autherrors.ErrSessionExpired, "[Client refresh]")
	}

	swapped, err := c.store.ReplaceAccessToken(refreshCtx, refreshToken, access)
	if err != nil {
		return "", autherrors.Wrapf(err, "[Client refresh] store access token")
	}
	if !swapped {
		// Logged out or logged in again while the refresh was in flight.
		log.Debug().Msg("token store changed during refresh, discarding refreshed token")
		return "", autherrors.Wrapf(autherrors.ErrSessionExpired, "[Client refresh] session changed")
	}
	return access, nil
}

func (c *Client) expire(ctx context.Context, reason string) {
	log.Warn().Str("reason", reason).Msg("session expired")
	if err := c.store.Clear(ctx); err != nil {
		log.Err(err).Msg("failed to clear token store")
	}

	c.expirerMutex.RLock()
	expirer := c.expirer
	c.expirerMutex.RUnlock()
	if expirer != nil {
		expirer.ForceExpire(context.WithoutCancel(ctx))
	}
}

func (c *Client) send(req *http.Request, accessToken string) (*http.Response, error) {
	ctx := req.Context()
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, autherrors.Wrapf(err, "[Client send] replay body")
		}
		attempt.Body = body
	}

	attempt.Header.Del("Authorization")
	if accessToken != "" {
		token.BearerToken(accessToken).SetAuthHeader(attempt)
	}
	if attempt.Header.Get(RequestIDHeader) == "" {
		attempt.Header.Set(RequestIDHeader, uuid.NewString())
	}

	resp, err := c.httpClient.Do(attempt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Str("path", req.URL.Path).Msg("request failed")
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, autherrors.ErrNetwork)
	}
	return resp, nil
}

// makeReplayable buffers a body that cannot be re-read so the single retry can resend it
func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	payload, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return autherrors.Wrapf(err, "[Client Do] buffer body")
	}
	req.Body = io.NopCloser(bytes.NewReader(payload))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	return nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// GetJSON fetches path and decodes a 2xx body into out
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

// PostJSON posts in as JSON and decodes a 2xx body into out. out may be nil.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	req, err := c.NewRequest(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return autherrors.Wrapf(err, "[Client doJSON] decode %s", req.URL.Path)
	}
	return nil
}

// FetchIdentity asks the backend who the stored access token belongs to
func (c *Client) FetchIdentity(ctx context.Context) (users.Identity, error) {
	var profile backend.Profile
	if err := c.GetJSON(ctx, backend.MePath, &profile); err != nil {
		return users.Identity{}, err
	}
	return profile.Identity(), nil
}
