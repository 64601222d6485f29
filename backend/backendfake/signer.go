package backendfake

import (
	"crypto/rsa"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer mints the fake's access tokens and returns the key that verifies them
type Signer interface {
	Sign(claims jwtlib.MapClaims) (string, error)
	VerificationKey(t *jwtlib.Token) (any, error)
}

type keySigner struct {
	method    jwtlib.SigningMethod
	keyID     string
	signKey   any
	verifyKey any
}

// NewHMACSigner signs with HS256 and a shared secret
func NewHMACSigner(secret string) Signer {
	key := []byte(secret)
	return &keySigner{method: jwtlib.SigningMethodHS256, signKey: key, verifyKey: key}
}

// NewRSASigner signs with RS256 and stamps keyID into the kid header, as a JWKS-backed backend would
func NewRSASigner(keyID string, privateKey *rsa.PrivateKey) Signer {
	return &keySigner{method: jwtlib.SigningMethodRS256, keyID: keyID, signKey: privateKey, verifyKey: &privateKey.PublicKey}
}

func (s *keySigner) Sign(claims jwtlib.MapClaims) (string, error) {
	t := jwtlib.NewWithClaims(s.method, claims)
	if s.keyID != "" {
		t.Header["kid"] = s.keyID
	}
	signed, err := t.SignedString(s.signKey)
	if err != nil {
		return "", errors.Wrapf(err, "backendfake: sign %s token", s.method.Alg())
	}
	return signed, nil
}

func (s *keySigner) VerificationKey(t *jwtlib.Token) (any, error) {
	if t.Method.Alg() != s.method.Alg() {
		return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return s.verifyKey, nil
}
