package errors

import (
	"errors"
	"fmt"
)

// Common error types for the dashboard session client
var (
	// Authentication errors
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRegistration = errors.New("invalid registration")

	// Transport errors
	ErrNetwork = errors.New("network error")

	// Token errors
	ErrMalformedToken      = errors.New("malformed token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// Session errors
	ErrSessionExpired = errors.New("session expired")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// UserFacing reports whether err is meant to be shown at the point of the action that caused it.
// Session expiry and malformed tokens are handled by state transitions instead.
func UserFacing(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrInvalidRegistration)
}
