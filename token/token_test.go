package token_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://api.maritime.test"

func signHMAC(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("1234"))
	require.NoError(t, err)
	return raw
}

func signRSA(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	signed := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed.Header["kid"] = "kid-1"
	raw, err := signed.SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestDecodeClaims(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	raw := signHMAC(t, jwt.MapClaims{
		"user_id":    "42",
		"email":      "ops@maritime.com",
		"role":       "operator",
		"token_type": "access",
		"exp":        exp.Unix(),
	})

	claims, err := token.NewDecoder().Decode(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "42", claims.Subject)
	require.Equal(t, "access", claims.TokenType)
	require.True(t, exp.Equal(claims.ExpiresAt))

	identity, ok := claims.Identity()
	require.True(t, ok)
	require.Equal(t, users.Identity{Email: "ops@maritime.com", Role: users.RoleOperator}, identity)
}

func TestDecodeRolesArrayAndUnknownRole(t *testing.T) {
	raw := signHMAC(t, jwt.MapClaims{"sub": "u-1", "email": "a@b.c", "roles": []string{"Analyst"}})
	claims, err := token.NewDecoder().Decode(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject)
	require.Equal(t, users.RoleAnalyst, claims.Role)

	raw = signHMAC(t, jwt.MapClaims{"email": "a@b.c", "role": "captain"})
	claims, err = token.NewDecoder().Decode(context.Background(), raw)
	require.NoError(t, err)
	identity, ok := claims.Identity()
	require.True(t, ok, "an unknown role still yields an identity")
	require.Equal(t, users.RoleNone, identity.Role)
}

func TestDecodeWithoutIdentityClaims(t *testing.T) {
	raw := signHMAC(t, jwt.MapClaims{"user_id": 7, "token_type": "access"})
	claims, err := token.NewDecoder().Decode(context.Background(), raw)
	require.NoError(t, err)
	_, ok := claims.Identity()
	require.False(t, ok)
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-jwt", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.e30"} {
		_, err := token.NewDecoder().Decode(context.Background(), raw)
		require.ErrorIs(t, err, autherrors.ErrMalformedToken, raw)
	}
}

func TestStaticVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	decoder := token.NewDecoder(token.WithVerifier(token.NewStaticVerifier(testIssuer, &key.PublicKey)))

	expired := signRSA(t, key, jwt.MapClaims{
		"iss":   testIssuer,
		"email": "admin@maritime.com",
		"role":  "admin",
		"exp":   time.Now().Add(-time.Hour).Unix(),
	})
	claims, err := decoder.Decode(context.Background(), expired)
	require.NoError(t, err, "expired tokens still decode, refresh handles expiry")
	require.True(t, claims.ExpiresAt.Before(time.Now()))
	require.Equal(t, users.RoleAdmin, claims.Role)

	forged := signRSA(t, otherKey, jwt.MapClaims{"iss": testIssuer, "email": "x@y.z", "role": "admin"})
	_, err = decoder.Decode(context.Background(), forged)
	require.ErrorIs(t, err, autherrors.ErrMalformedToken)

	wrongIssuer := signRSA(t, key, jwt.MapClaims{"iss": "https://elsewhere", "email": "x@y.z", "role": "admin"})
	_, err = decoder.Decode(context.Background(), wrongIssuer)
	require.ErrorIs(t, err, autherrors.ErrMalformedToken)
}

func TestPair(t *testing.T) {
	require.False(t, token.Pair{}.IsComplete())
	require.False(t, token.Pair{AccessToken: "a"}.IsComplete())
	require.False(t, token.Pair{RefreshToken: "r"}.IsComplete())

	pair := token.Pair{AccessToken: "a", RefreshToken: "r"}
	require.True(t, pair.IsComplete())

	refreshed := pair.WithAccessToken("a2")
	require.Equal(t, "r", refreshed.RefreshToken)
	require.Equal(t, "a", pair.AccessToken)

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	token.BearerToken(refreshed.AccessToken).SetAuthHeader(req)
	require.Equal(t, "Bearer a2", req.Header.Get("Authorization"))
}
