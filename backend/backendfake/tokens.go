package backendfake

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-dashboard-session/token"
)

var errTokenNotFound = errors.New("not found")

// StoredRefreshToken is a refresh token the fake has issued
type StoredRefreshToken struct {
	Token  string
	UserID int64
	Iat    time.Time
}

type refreshRepo struct {
	tokens map[string]*StoredRefreshToken
	lock   sync.RWMutex
}

func newRefreshRepo() *refreshRepo {
	return &refreshRepo{tokens: make(map[string]*StoredRefreshToken)}
}

func (tr *refreshRepo) Upsert(refreshToken *StoredRefreshToken) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.tokens[refreshToken.Token] = refreshToken
}

func (tr *refreshRepo) Get(token string) (*StoredRefreshToken, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	rt, ok := tr.tokens[token]
	if !ok {
		return nil, errTokenNotFound
	}
	return rt, nil
}

func (tr *refreshRepo) Delete(token string) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	delete(tr.tokens, token)
}

func (tr *refreshRepo) DeleteAll() {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.tokens = make(map[string]*StoredRefreshToken)
}

// creator mints the pair the way the real backend does: a signed access JWT with
// email and role claims, and an opaque random refresh token.
type creator struct {
	signer        Signer
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	identityClaim bool
	refreshBytes  int
	repo          *refreshRepo
}

func (c *creator) CreateAccessToken(user *User, ttl time.Duration) (string, error) {
	now := token.NowTimeFunc()
	claims := jwtlib.MapClaims{
		"token_type": "access",
		"user_id":    user.ID,
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
		"jti":        uuid.New().String(),
	}
	if c.issuer != "" {
		claims["iss"] = c.issuer
	}
	if c.identityClaim {
		claims["email"] = user.Email
		claims["role"] = user.Role
	}

	signed, err := c.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (c *creator) CreateRefreshToken(user *User) (string, error) {
	tokenBytes := make([]byte, c.refreshBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	tokenStr := hex.EncodeToString(tokenBytes)
	c.repo.Upsert(&StoredRefreshToken{
		Token:  tokenStr,
		UserID: user.ID,
		Iat:    token.NowTimeFunc(),
	})
	return tokenStr, nil
}

// Redeem validates a refresh token and returns its owner's ID
func (c *creator) Redeem(refreshToken string) (int64, error) {
	rt, err := c.repo.Get(refreshToken)
	if err != nil {
		return 0, err
	}
	if token.NowTimeFunc().Sub(rt.Iat) > c.refreshTTL {
		c.repo.Delete(refreshToken)
		return 0, errors.New("refresh token expired")
	}
	return rt.UserID, nil
}

// ParseAccessToken verifies the signature and expiry of an access token
func (c *creator) ParseAccessToken(raw string) (jwtlib.MapClaims, error) {
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, c.signer.VerificationKey,
		jwtlib.WithTimeFunc(token.NowTimeFunc),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims["token_type"] != "access" {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}
