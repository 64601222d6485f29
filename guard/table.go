package guard

import (
	"strings"

	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/users"
)

// Route is a node in the guarded route tree. A route's requirement applies to its whole
// subtree, and children add their own on top.
type Route struct {
	Path         string
	AllowedRoles users.Roles
	Children     []Route
}

// Table is the application's route tree. Paths outside every route are public.
type Table struct {
	protected  []Route
	publicOnly []string
}

func NewTable(publicOnly []string, protected ...Route) *Table {
	return &Table{protected: protected, publicOnly: publicOnly}
}

// DefaultTable is the dashboard's route tree
func DefaultTable() *Table {
	return NewTable(
		[]string{RouteLogin, RouteRegister, RouteForgotPassword, RouteResetPassword},
		Route{
			Path:         RouteApp,
			AllowedRoles: users.AnyRole,
			Children: []Route{
				{Path: RouteDashboard},
				{Path: RouteVessels, Children: []Route{{Path: RouteVesselsLive}}},
				{Path: RoutePorts, AllowedRoles: users.RequireRoles(users.RoleAdmin)},
				{Path: RouteEvents},
				{Path: RouteSafety, AllowedRoles: users.RequireRoles(users.RoleAdmin, users.RoleOperator)},
				{Path: RouteAnalytics, AllowedRoles: users.RequireRoles(users.RoleAdmin, users.RoleAnalyst)},
				{Path: RouteProfile},
			},
		},
	)
}

// Evaluate walks the branch matching requested outer to inner
func (t *Table) Evaluate(requested string, state session.State) Decision {
	path := pathOnly(requested)
	for _, p := range t.publicOnly {
		if matches(p, path) {
			return EvaluatePublicOnly(state)
		}
	}

	chain := t.Chain(path)
	if chain == nil {
		return allow()
	}
	return EvaluateChain(chain, state, requested)
}

// Chain returns the requirements from the outermost matching route inwards, or nil for a public path
func (t *Table) Chain(path string) []users.Roles {
	var chain []users.Roles
	routes := t.protected
	for {
		route, ok := longestMatch(routes, path)
		if !ok {
			return chain
		}
		if chain == nil {
			chain = []users.Roles{}
		}
		chain = append(chain, route.AllowedRoles)
		routes = route.Children
	}
}

// IsProtected reports whether path falls inside a guarded route
func (t *Table) IsProtected(path string) bool {
	return t.Chain(pathOnly(path)) != nil
}

func longestMatch(routes []Route, path string) (Route, bool) {
	var best Route
	found := false
	for _, r := range routes {
		if matches(r.Path, path) && (!found || len(r.Path) > len(best.Path)) {
			best = r
			found = true
		}
	}
	return best, found
}

func matches(routePath, path string) bool {
	routePath = strings.TrimRight(routePath, "/")
	path = strings.TrimRight(path, "/")
	return path == routePath || strings.HasPrefix(path, routePath+"/")
}

func pathOnly(requested string) string {
	if i := strings.IndexAny(requested, "?#"); i >= 0 {
		return requested[:i]
	}
	return requested
}
