package token

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/internal/utils"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/pkg/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims are the parts of an access token the client cares about
type Claims struct {
	Subject   string
	Email     string
	Role      users.Role
	RawRole   string
	Issuer    string
	TokenType string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity returns the identity the token asserts, if it carries both an email and a role claim.
func (c Claims) Identity() (users.Identity, bool) {
	if c.Email == "" || c.RawRole == "" {
		return users.Identity{}, false
	}
	return users.Identity{Email: c.Email, Role: c.Role}, true
}

// Verifier checks an access token's signature. Implementations must not reject expired tokens:
// expiry is handled by the refresh protocol.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) error
}

// Decoder extracts claims from access tokens. Without a Verifier the signature is not checked;
// role claims decoded client-side only drive navigation, the backend re-checks every request.
type Decoder struct {
	verifier Verifier
}

type DecoderOption func(*Decoder)

func WithVerifier(v Verifier) DecoderOption {
	return func(d *Decoder) {
		d.verifier = v
	}
}

func NewDecoder(options ...DecoderOption) *Decoder {
	d := &Decoder{}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Decode parses rawToken. Any structural or signature failure is reported as ErrMalformedToken.
func (d *Decoder) Decode(ctx context.Context, rawToken string) (Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return Claims{}, errors.Wrap(autherrors.ErrMalformedToken, "empty token")
	}

	if d.verifier != nil {
		if err := d.verifier.Verify(ctx, rawToken); err != nil {
			return Claims{}, errors.Wrap(autherrors.ErrMalformedToken, err.Error())
		}
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return Claims{}, errors.Wrap(autherrors.ErrMalformedToken, err.Error())
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.Wrap(autherrors.ErrMalformedToken, "error extracting claims")
	}

	return claimsFromMap(mapClaims), nil
}

func claimsFromMap(m jwt.MapClaims) Claims {
	c := Claims{}
	c.Subject, _ = m.GetSubject()
	if c.Subject == "" {
		// Backends issuing simplejwt-style tokens carry the subject as user_id
		c.Subject = utils.FirstString(m["user_id"])
	}
	c.Issuer, _ = m.GetIssuer()
	c.Email = utils.FirstString(m["email"])
	c.TokenType = utils.FirstString(m["token_type"])

	c.RawRole = utils.FirstString(m["role"])
	if c.RawRole == "" {
		c.RawRole = utils.FirstString(m["roles"])
	}
	c.Role = users.ParseRole(c.RawRole)

	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	return c
}
