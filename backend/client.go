package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/internal/utils"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeJSON = "application/json"
	maxErrorBody    = 64 << 10
)

// Error is a non-success response the client has no more specific meaning for.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
}

// Client calls the unauthenticated account endpoints and the refresh endpoint.
// Protected calls go through httpclient, which attaches tokens.
type Client struct {
	baseURL    string
	httpClient *http.Client
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

func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// BaseURL returns the API root every path is resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL resolves an endpoint path against the base URL
func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Login exchanges credentials for a token pair. Rejected credentials return ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, creds users.Credentials) (LoginResponse, error) {
	if err := creds.Validate(); err != nil {
		return LoginResponse{}, err
	}

	var resp LoginResponse
	status, detail, err := c.postJSON(ctx, LoginPath, creds, &resp)
	if err != nil {
		return LoginResponse{}, autherrors.Wrapf(err, "[Client Login]")
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return LoginResponse{}, autherrors.Wrapf(autherrors.ErrInvalidCredentials, "[Client Login] %s", detail)
	case status != http.StatusOK:
		return LoginResponse{}, &Error{StatusCode: status, Detail: detail}
	case resp.Access == "" || resp.Refresh == "":
		return LoginResponse{}, &Error{StatusCode: status, Detail: "login response is missing tokens"}
	}
	return resp, nil
}

// Refresh redeems refreshToken for a new access token. A rejected refresh token returns ErrInvalidRefreshToken.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var resp RefreshResponse
	status, detail, err := c.postJSON(ctx, RefreshPath, RefreshRequest{Refresh: refreshToken}, &resp)
	if err != nil {
		return "", autherrors.Wrapf(err, "[Client Refresh]")
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return "", autherrors.Wrapf(autherrors.ErrInvalidRefreshToken, "[Client Refresh] %s", detail)
	case status != http.StatusOK:
		return "", &Error{StatusCode: status, Detail: detail}
	case resp.Access == "":
		return "", autherrors.Wrapf(autherrors.ErrInvalidRefreshToken, "[Client Refresh] empty access token")
	}
	return resp.Access, nil
}

// Me fetches the profile for accessToken directly, without the refresh protocol.
func (c *Client) Me(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(MePath), nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", contentTypeJSON)

	var profile Profile
	status, detail, err := c.do(req, &profile)
	if err != nil {
		return Profile{}, autherrors.Wrapf(err, "[Client Me]")
	}
	switch status {
	case http.StatusOK:
		return profile, nil
	case http.StatusUnauthorized:
		return Profile{}, autherrors.Wrapf(autherrors.ErrSessionExpired, "[Client Me] %s", detail)
	default:
		return Profile{}, &Error{StatusCode: status, Detail: detail}
	}
}

// Register creates an operator or analyst account. Admin accounts are rejected before any request is made.
func (c *Client) Register(ctx context.Context, registration users.Registration) (string, error) {
	if err := registration.Validate(); err != nil {
		return "", err
	}
	var resp MessageResponse
	status, detail, err := c.postJSON(ctx, RegisterPath, registration, &resp)
	if err != nil {
		return "", autherrors.Wrapf(err, "[Client Register]")
	}
	switch {
	case status == http.StatusBadRequest:
		return "", autherrors.Wrapf(autherrors.ErrInvalidRegistration, "[Client Register] %s", detail)
	case status != http.StatusOK && status != http.StatusCreated:
		return "", &Error{StatusCode: status, Detail: detail}
	}
	return resp.Message, nil
}

// ForgotPassword asks the backend to email a reset link to email
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", &Error{StatusCode: http.StatusBadRequest, Detail: "email is required"}
	}
	return c.message(ctx, ForgotPasswordPath, ForgotPasswordRequest{Email: email}, "[Client ForgotPassword]")
}

func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	if req.UID == "" || req.Token == "" {
		return "", &Error{StatusCode: http.StatusBadRequest, Detail: "reset link is incomplete"}
	}
	if err := users.ValidatePasswordStrength(req.NewPassword); err != nil {
		return "", &Error{StatusCode: http.StatusBadRequest, Detail: err.Error()}
	}
	return c.message(ctx, ResetPasswordPath, req, "[Client ResetPassword]")
}

func (c *Client) message(ctx context.Context, path string, body any, op string) (string, error) {
	var resp MessageResponse
	status, detail, err := c.postJSON(ctx, path, body, &resp)
	if err != nil {
		return "", autherrors.Wrapf(err, "%s", op)
	}
	if status != http.StatusOK {
		return "", &Error{StatusCode: status, Detail: detail}
	}
	return resp.Message, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	return c.do(req, out)
}

// do sends req and decodes a 2xx body into out. Non-2xx bodies are reduced to a detail string.
func (c *Client) do(req *http.Request, out any) (int, string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("path", req.URL.Path).Msg("backend request failed")
		return 0, "", fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, autherrors.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, "", fmt.Errorf("decode %s response: %w", req.URL.Path, err)
			}
		}
		return resp.StatusCode, "", nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, ErrorDetail(body), nil
}

// ErrorDetail extracts a human readable message from an error body. It understands
// {"detail": "..."} and field error maps such as {"email": ["already registered"]}.
func ErrorDetail(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return strings.TrimSpace(string(body))
	}
	if detail := utils.FirstString(fields["detail"]); detail != "" {
		return detail
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if msg := utils.FirstString(fields[k]); msg != "" {
			return k + ": " + msg
		}
	}
	return ""
}
