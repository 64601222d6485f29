package backend

import "github.com/jrsteele09/go-dashboard-session/users"

// Endpoint paths, relative to the API base URL. The trailing slashes are significant to the backend.
const (
	LoginPath          = "/api/auth/login/"
	RefreshPath        = "/api/auth/refresh/"
	MePath             = "/api/users/me/"
	RegisterPath       = "/api/users/register/"
	ForgotPasswordPath = "/api/users/forget-password/"
	ResetPasswordPath  = "/api/users/reset-password/"
)

// LoginResponse is returned by the login endpoint.
type LoginResponse struct {
	// Access is the short-lived signed token sent as "Authorization: Bearer <access>".
	// Carries the email and role claims when the backend is configured to add them.
	Access string `json:"access"`

	// Refresh is the long-lived token redeemed at the refresh endpoint.
	// Not rotated on use: the same refresh token stays valid until it expires or is revoked.
	Refresh string `json:"refresh"`

	// User is the server-asserted profile. Some deployments omit it, in which case the
	// identity is taken from the access token claims or fetched from the identity endpoint.
	User *Profile `json:"user,omitempty"`
}

// Profile is the identity endpoint's view of the logged in user.
type Profile struct {
	// ID is the backend's numeric primary key. Not used by the client beyond display.
	ID int64 `json:"id,omitempty"`

	Email string `json:"email"`

	// Role is one of admin, operator or analyst. Anything else maps to no role.
	Role string `json:"role"`
}

// Identity converts the profile to the client's Identity
func (p Profile) Identity() users.Identity {
	return users.NewIdentity(p.Email, p.Role)
}

// RefreshRequest redeems a refresh token.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse carries the new access token. There is no refresh field: the refresh token is not rotated.
type RefreshResponse struct {
	Access string `json:"access"`
}

// ForgotPasswordRequest asks the backend to email a reset link.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest completes a reset using the uid and token from the emailed link.
type ResetPasswordRequest struct {
	UID         string `json:"uid"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// MessageResponse is the acknowledgement body of the account endpoints.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the backend's error body. Field errors from registration arrive as extra keys.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
