package token

import (
	"strings"

	"golang.org/x/oauth2"
)

// Pair is the access/refresh token pair issued at login.
// Both halves are opaque to everything except the Decoder.
type Pair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

// IsComplete reports whether both halves are present. A half pair is treated as no pair.
func (p Pair) IsComplete() bool {
	return strings.TrimSpace(p.AccessToken) != "" && strings.TrimSpace(p.RefreshToken) != ""
}

// WithAccessToken returns a copy of the pair carrying a refreshed access token.
// The refresh token is never rotated.
func (p Pair) WithAccessToken(accessToken string) Pair {
	p.AccessToken = accessToken
	return p
}

// BearerToken wraps an access token as an oauth2.Token so requests can use its header helpers
func BearerToken(accessToken string) *oauth2.Token {
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
}
