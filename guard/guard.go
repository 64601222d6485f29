// Package guard decides whether a navigation may proceed given the session state and a
// route's role requirement. Decisions are a UX convenience; the backend enforces access.
package guard

import (
	"net/url"
	"strings"

	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/users"
)

type DecisionKind int

const (
	Allow DecisionKind = iota
	// Defer means the session is still resolving: show a placeholder, do not redirect.
	Defer
	DenyToLogin
	DenyToHome
)

func (k DecisionKind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Defer:
		return "defer"
	case DenyToLogin:
		return "deny-to-login"
	case DenyToHome:
		return "deny-to-home"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a guard evaluation
type Decision struct {
	Kind DecisionKind
	// Redirect is where the user is sent for the Deny kinds
	Redirect string
	// ReturnTo is the originally requested location, carried by DenyToLogin
	ReturnTo string
}

func (d Decision) Allowed() bool {
	return d.Kind == Allow
}

// Location is the redirect target including the return path, or "" when there is no redirect
func (d Decision) Location() string {
	switch d.Kind {
	case DenyToLogin:
		if d.ReturnTo == "" {
			return d.Redirect
		}
		return d.Redirect + "?next=" + url.QueryEscape(d.ReturnTo)
	case DenyToHome:
		return d.Redirect
	default:
		return ""
	}
}

func allow() Decision {
	return Decision{Kind: Allow}
}

func deferred() Decision {
	return Decision{Kind: Defer}
}

func denyToLogin(requested string) Decision {
	return Decision{Kind: DenyToLogin, Redirect: RouteLogin, ReturnTo: requested}
}

func denyToHome() Decision {
	return Decision{Kind: DenyToHome, Redirect: RouteHome}
}

// Evaluate is the single guard every protected route uses. A nil requirement admits any
// authenticated role; otherwise the role must be a member.
func Evaluate(required users.Roles, state session.State, requested string) Decision {
	switch {
	case state.Status == session.StatusResolving:
		return deferred()
	case !state.IsAuthenticated():
		return denyToLogin(requested)
	case !required.Permits(state.Role()):
		return denyToHome()
	default:
		return allow()
	}
}

// EvaluateChain evaluates nested guards outer to inner. The first non-Allow decision wins.
func EvaluateChain(chain []users.Roles, state session.State, requested string) Decision {
	for _, required := range chain {
		if d := Evaluate(required, state, requested); !d.Allowed() {
			return d
		}
	}
	// An empty chain is still a protected route.
	if len(chain) == 0 {
		return Evaluate(users.AnyRole, state, requested)
	}
	return allow()
}

// EvaluatePublicOnly guards login and the other account pages: authenticated users are sent home
func EvaluatePublicOnly(state session.State) Decision {
	switch {
	case state.Status == session.StatusResolving:
		return deferred()
	case state.IsAuthenticated():
		return denyToHome()
	default:
		return allow()
	}
}

// SafeReturnTo accepts a return path only if it stays on this site. Anything else yields RouteHome.
func SafeReturnTo(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return RouteHome
	}
	return next
}
