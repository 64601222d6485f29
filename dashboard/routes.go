package dashboard

import (
	"github.com/jrsteele09/go-dashboard-session/guard"
	"github.com/jrsteele09/go-dashboard-session/users"
)

const (
	RouteLogout      = "/logout"
	RouteHealth      = "/healthz"
	RouteAPISession  = "/api/session"
	RouteAPIMenu     = "/api/menu"
	RouteAPIProxy    = "/api/proxy/"
	contentTypeHTML  = "text/html; charset=utf-8"
	contentTypeJSON  = "application/json"
	proxyBackendRoot = "/api/"
)

func (s *Shell) initRoutes() {
	sess := s.app.Session

	s.RegisterRouteFunc("GET /{$}", ChainMiddleware(s.IndexHandler(), s.PageMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Account pages, public only
	s.RegisterRouteFunc("GET "+guard.RouteLogin, ChainMiddleware(s.LoginPageHandler(), s.PageMiddleware(guard.RequirePublicOnly(sess))...))
	s.RegisterRouteFunc("POST "+guard.RouteLogin, ChainMiddleware(s.LoginSubmissionHandler(), s.PageMiddleware(guard.RequirePublicOnly(sess))...))
	s.RegisterRouteFunc("GET "+guard.RouteRegister, ChainMiddleware(s.RegisterPageHandler(), s.PageMiddleware(guard.RequirePublicOnly(sess))...))
	s.RegisterRouteFunc("POST "+guard.RouteRegister, ChainMiddleware(s.RegisterSubmissionHandler(), s.PageMiddleware(guard.RequirePublicOnly(sess))...))
	s.RegisterRouteFunc("GET "+guard.RouteForgotPassword, ChainMiddleware(s.ForgotPasswordPageHandler(), s.PageMiddleware(guard.RequirePublicOnly(sess))...))
	s.RegisterRouteFunc("POST "+guard.RouteForgotPassword, ChainMiddleware(s.ForgotPasswordSubmissionHandler(), s.PageMiddleware(guard.RequirePublicOnly(sess))...))
	s.RegisterRouteFunc("GET "+guard.RouteResetPassword, ChainMiddleware(s.ResetPasswordPageHandler(), s.PageMiddleware(guard.RequirePublicOnly(sess))...))
	s.RegisterRouteFunc("POST "+guard.RouteResetPassword, ChainMiddleware(s.ResetPasswordSubmissionHandler(), s.PageMiddleware(guard.RequirePublicOnly(sess))...))

	s.RegisterRouteFunc("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.PageMiddleware()...))

	// Application pages, gated by the route table
	s.RegisterRouteFunc("GET "+guard.RouteApp+"/{page...}", ChainMiddleware(s.AppPageHandler(), s.PageMiddleware(guard.TableMiddleware(sess, s.table))...))

	// JSON API
	s.RegisterRouteFunc("GET "+RouteAPISession, ChainMiddleware(s.SessionHandler(), s.PageMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteAPIMenu, ChainMiddleware(s.MenuHandler(), s.PageMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteAPIProxy+"{path...}", ChainMiddleware(s.ProxyHandler(), s.PageMiddleware(requireAPISession(sess, users.AnyRole))...))
}
