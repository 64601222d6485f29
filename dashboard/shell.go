package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/jrsteele09/go-dashboard-session/guard"
	"github.com/rs/zerolog/log"
)

// Shell is the local web front end. Every route below /app is gated by the route table.
type Shell struct {
	env    string
	mux    *http.ServeMux
	routes []string
	app    *App
	table  *guard.Table
	notice *ExpiryNotice
}

func NewShell(app *App, notice *ExpiryNotice) *Shell {
	if notice == nil {
		notice = &ExpiryNotice{}
	}
	s := &Shell{
		env:    app.Config.GetEnv(),
		mux:    http.NewServeMux(),
		app:    app,
		table:  guard.DefaultTable(),
		notice: notice,
	}
	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Shell) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Shell) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Shell) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func displayMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", displayMethod(method), path)
}

func logRequest(method, path string, status int) {
	log.Info().Msgf("[%-19s] %s %s%d%s", displayMethod(method), path, statusColor(status), status, ResetColor)
}

// ExpiryNotice remembers that the session was force-expired so the next login page can say so.
// It is the shell's Navigator: guards do the actual redirect once the session is anonymous.
type ExpiryNotice struct {
	expired atomic.Bool
}

func (n *ExpiryNotice) NavigateToLogin(_ context.Context) {
	n.expired.Store(true)
}

// Take reports and resets the notice
func (n *ExpiryNotice) Take() bool {
	return n.expired.Swap(false)
}
