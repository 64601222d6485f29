package users

import (
	"fmt"
	"strings"

	autherrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
)

// Identity is who the backend says is logged in
type Identity struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// NewIdentity builds an Identity, normalising the role into the closed set
func NewIdentity(email, role string) Identity {
	return Identity{
		Email: strings.TrimSpace(email),
		Role:  ParseRole(role),
	}
}

// IsZero reports whether the identity carries no subject
func (i Identity) IsZero() bool {
	return i.Email == ""
}

// Credentials are submitted once to the login endpoint and never persisted
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// String never includes the password
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Email: %q}", c.Email)
}

// Validate checks the credentials are complete before a network call is made
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return fmt.Errorf("email and password are required: %w", autherrors.ErrInvalidCredentials)
	}
	return nil
}

// Registration is a self-service sign up request
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// Validate mirrors the backend's registration rules: admin accounts cannot self-register.
func (r Registration) Validate() error {
	if strings.TrimSpace(r.Email) == "" || !strings.Contains(r.Email, "@") {
		return fmt.Errorf("a valid email is required: %w", autherrors.ErrInvalidRegistration)
	}
	if r.Role != RoleOperator && r.Role != RoleAnalyst {
		return fmt.Errorf("cannot register as %s: %w", r.Role, autherrors.ErrInvalidRegistration)
	}
	if err := ValidatePasswordStrength(r.Password); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), autherrors.ErrInvalidRegistration)
	}
	return nil
}
