package guard

import (
	"net/http"

	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/users"
	"github.com/rs/zerolog/log"
)

// StateSource is anything that can report the current session state
type StateSource interface {
	State() session.State
}

// RetryAfterSeconds is sent with 503 responses while the session is still resolving
const RetryAfterSeconds = "1"

// Require guards a single handler with a role requirement
func Require(source StateSource, required users.Roles) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			d := Evaluate(required, source.State(), r.URL.RequestURI())
			if !d.Allowed() {
				Respond(w, r, d)
				return
			}
			next(w, r)
		}
	}
}

// RequirePublicOnly keeps authenticated users off the account pages
func RequirePublicOnly(source StateSource) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			d := EvaluatePublicOnly(source.State())
			if !d.Allowed() {
				Respond(w, r, d)
				return
			}
			next(w, r)
		}
	}
}

// TableMiddleware guards every request by the route table
func TableMiddleware(source StateSource, table *Table) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			d := table.Evaluate(r.URL.RequestURI(), source.State())
			if !d.Allowed() {
				Respond(w, r, d)
				return
			}
			next(w, r)
		}
	}
}

// Respond writes the HTTP form of a non-Allow decision
func Respond(w http.ResponseWriter, r *http.Request, d Decision) {
	log.Debug().Str("path", r.URL.Path).Str("decision", d.Kind.String()).Msg("navigation guarded")
	switch d.Kind {
	case Defer:
		w.Header().Set("Retry-After", RetryAfterSeconds)
		http.Error(w, "session is still loading", http.StatusServiceUnavailable)
	case DenyToLogin, DenyToHome:
		http.Redirect(w, r, d.Location(), http.StatusSeeOther)
	}
}
