package session

import "github.com/jrsteele09/go-dashboard-session/users"

// Status is where the session is in its lifecycle
type Status int

const (
	// StatusResolving is the start-up state while stored tokens are checked. Guards defer.
	StatusResolving Status = iota
	StatusAnonymous
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusResolving:
		return "resolving"
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of the session. Identity is set only when Authenticated.
type State struct {
	Status   Status
	Identity *users.Identity
}

func Resolving() State {
	return State{Status: StatusResolving}
}

func Anonymous() State {
	return State{Status: StatusAnonymous}
}

func Authenticated(identity users.Identity) State {
	return State{Status: StatusAuthenticated, Identity: &identity}
}

func (s State) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// Role returns the authenticated role, or RoleNone
func (s State) Role() users.Role {
	if !s.IsAuthenticated() {
		return users.RoleNone
	}
	return s.Identity.Role
}

// Email returns the authenticated email, or ""
func (s State) Email() string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.Identity.Email
}
