package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/go-dashboard-session/backend"
	"github.com/jrsteele09/go-dashboard-session/backend/backendfake"
	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/stretchr/testify/require"
)

const (
	operatorEmail    = "operator@example.com"
	operatorPassword = "Harbour#2024"
)

func newFake(t *testing.T, options ...backendfake.Option) (*backendfake.Server, *backend.Client) {
	t.Helper()
	fake := backendfake.New(options...)
	_, err := fake.AddUser(operatorEmail, operatorPassword, "operator")
	require.NoError(t, err)
	srv := fake.Start()
	t.Cleanup(srv.Close)
	return fake, backend.New(srv.URL + "/")
}

func TestLogin(t *testing.T) {
	_, client := newFake(t)
	ctx := context.Background()

	resp, err := client.Login(ctx, users.Credentials{Email: operatorEmail, Password: operatorPassword})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Access)
	require.NotEmpty(t, resp.Refresh)
	require.NotNil(t, resp.User)
	require.Equal(t, users.NewIdentity(operatorEmail, "operator"), resp.User.Identity())

	claims, err := token.NewDecoder().Decode(ctx, resp.Access)
	require.NoError(t, err)
	identity, ok := claims.Identity()
	require.True(t, ok)
	require.Equal(t, users.RoleOperator, identity.Role)
}

func TestLoginRejected(t *testing.T) {
	fake, client := newFake(t)
	ctx := context.Background()

	_, err := client.Login(ctx, users.Credentials{Email: operatorEmail, Password: "wrong"})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)

	_, err = client.Login(ctx, users.Credentials{Email: operatorEmail})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	require.EqualValues(t, 1, fake.LoginCalls())
}

func TestLoginWithoutProfile(t *testing.T) {
	_, client := newFake(t, backendfake.WithoutProfile(), backendfake.WithoutIdentityClaims())

	resp, err := client.Login(context.Background(), users.Credentials{Email: operatorEmail, Password: operatorPassword})
	require.NoError(t, err)
	require.Nil(t, resp.User)

	claims, err := token.NewDecoder().Decode(context.Background(), resp.Access)
	require.NoError(t, err)
	_, ok := claims.Identity()
	require.False(t, ok)
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := backend.New(srv.URL, backend.WithTimeout(time.Second))

	_, err := client.Login(context.Background(), users.Credentials{Email: operatorEmail, Password: operatorPassword})
	require.ErrorIs(t, err, autherrors.ErrNetwork)
	_, err = client.Refresh(context.Background(), "anything")
	require.ErrorIs(t, err, autherrors.ErrNetwork)
}

func TestRefresh(t *testing.T) {
	fake, client := newFake(t)
	ctx := context.Background()

	resp, err := client.Login(ctx, users.Credentials{Email: operatorEmail, Password: operatorPassword})
	require.NoError(t, err)

	access, err := client.Refresh(ctx, resp.Refresh)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEqual(t, resp.Access, access)

	// Refresh tokens are not rotated.
	_, err = client.Refresh(ctx, resp.Refresh)
	require.NoError(t, err)

	fake.RevokeRefreshTokens()
	_, err = client.Refresh(ctx, resp.Refresh)
	require.ErrorIs(t, err, autherrors.ErrInvalidRefreshToken)

	_, err = client.Refresh(ctx, "")
	require.ErrorIs(t, err, autherrors.ErrInvalidRefreshToken)
	require.EqualValues(t, 4, fake.RefreshCalls())
}

func TestMe(t *testing.T) {
	fake, client := newFake(t)
	ctx := context.Background()

	access, err := fake.IssueAccessToken(operatorEmail, time.Minute)
	require.NoError(t, err)
	profile, err := client.Me(ctx, access)
	require.NoError(t, err)
	require.Equal(t, operatorEmail, profile.Email)
	require.Equal(t, "operator", profile.Role)

	expired, err := fake.IssueAccessToken(operatorEmail, -time.Minute)
	require.NoError(t, err)
	_, err = client.Me(ctx, expired)
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
}

func TestTokenLifetimes(t *testing.T) {
	_, client := newFake(t, backendfake.WithAccessTTL(-time.Minute), backendfake.WithRefreshTTL(-time.Second))
	ctx := context.Background()

	resp, err := client.Login(ctx, users.Credentials{Email: operatorEmail, Password: operatorPassword})
	require.NoError(t, err)

	_, err = client.Me(ctx, resp.Access)
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)

	_, err = client.Refresh(ctx, resp.Refresh)
	require.ErrorIs(t, err, autherrors.ErrInvalidRefreshToken)
}

func TestRegister(t *testing.T) {
	_, client := newFake(t)
	ctx := context.Background()

	msg, err := client.Register(ctx, users.Registration{Email: "analyst@example.com", Password: "Tidal!Flow9", Role: users.RoleAnalyst})
	require.NoError(t, err)
	require.NotEmpty(t, msg)

	_, err = client.Login(ctx, users.Credentials{Email: "analyst@example.com", Password: "Tidal!Flow9"})
	require.NoError(t, err)

	_, err = client.Register(ctx, users.Registration{Email: "analyst@example.com", Password: "Tidal!Flow9", Role: users.RoleAnalyst})
	require.ErrorIs(t, err, autherrors.ErrInvalidRegistration)
	require.Contains(t, err.Error(), "already exists")

	_, err = client.Register(ctx, users.Registration{Email: "boss@example.com", Password: "Tidal!Flow9", Role: users.RoleAdmin})
	require.ErrorIs(t, err, autherrors.ErrInvalidRegistration)
}

func TestPasswordReset(t *testing.T) {
	fake, client := newFake(t)
	ctx := context.Background()

	_, err := client.ForgotPassword(ctx, operatorEmail)
	require.NoError(t, err)
	_, err = client.ForgotPassword(ctx, "nobody@example.com")
	require.NoError(t, err)

	uid, resetToken, ok := fake.ResetLink(operatorEmail)
	require.True(t, ok)

	_, err = client.ResetPassword(ctx, backend.ResetPasswordRequest{UID: uid, Token: "wrong", NewPassword: "Anchor$Down42"})
	var apiErr *backend.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = client.ResetPassword(ctx, backend.ResetPasswordRequest{UID: uid, Token: resetToken, NewPassword: "Anchor$Down42"})
	require.NoError(t, err)

	_, err = client.Login(ctx, users.Credentials{Email: operatorEmail, Password: operatorPassword})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	_, err = client.Login(ctx, users.Credentials{Email: operatorEmail, Password: "Anchor$Down42"})
	require.NoError(t, err)
}

func TestErrorDetail(t *testing.T) {
	require.Equal(t, "bad", backend.ErrorDetail([]byte(`{"detail":"bad"}`)))
	require.Equal(t, "email: taken", backend.ErrorDetail([]byte(`{"email":["taken"]}`)))
	require.Equal(t, "plain text", backend.ErrorDetail([]byte("plain text")))
	require.Equal(t, "", backend.ErrorDetail([]byte(`{}`)))
}

func TestURL(t *testing.T) {
	client := backend.New("http://api.example.com/")
	require.Equal(t, "http://api.example.com", client.BaseURL())
	require.Equal(t, "http://api.example.com/api/auth/login/", client.URL(backend.LoginPath))
}
