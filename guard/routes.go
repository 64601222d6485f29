package guard

// Route path constants shared by the guard table, the navigation tree and the shell
const (
	// Public-only routes. Authenticated users are sent home.
	RouteLogin          = "/login"
	RouteRegister       = "/register"
	RouteForgotPassword = "/forgot-password"
	RouteResetPassword  = "/reset-password"

	// Protected subtree
	RouteApp         = "/app"
	RouteDashboard   = "/app/dashboard"
	RouteVessels     = "/app/vessels"
	RouteVesselsLive = "/app/vessels/live"
	RoutePorts       = "/app/ports"
	RouteEvents      = "/app/events"
	RouteSafety      = "/app/safety"
	RouteAnalytics   = "/app/analytics"
	RouteProfile     = "/app/profile"

	// RouteHome is the default landing page, and where role denials are sent
	RouteHome = RouteDashboard
)
