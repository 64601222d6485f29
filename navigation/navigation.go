// Package navigation projects the static menu through the current role.
package navigation

import (
	"github.com/jrsteele09/go-dashboard-session/guard"
	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/users"
)

// Node is a menu entry. A nil AllowedRoles is visible to every authenticated role.
// A node with children is a group; a group without a Path is only a heading.
type Node struct {
	ID           string
	Label        string
	Path         string
	AllowedRoles users.Roles
	Children     []Node
}

func (n Node) IsGroup() bool {
	return len(n.Children) > 0
}

// ProfileID identifies the entry that is rendered apart from the main menu
const ProfileID = "profile"

// DefaultTree is the dashboard's menu
func DefaultTree() []Node {
	return []Node{
		{ID: "dashboard", Label: "Dashboard", Path: guard.RouteDashboard},
		{
			ID:    "vessels",
			Label: "Vessels",
			Children: []Node{
				{ID: "vessels-list", Label: "All Vessels", Path: guard.RouteVessels},
				{ID: "vessels-live", Label: "Live Map", Path: guard.RouteVesselsLive},
			},
		},
		{ID: "ports", Label: "Ports", Path: guard.RoutePorts, AllowedRoles: users.RequireRoles(users.RoleAdmin)},
		{ID: "events", Label: "Events", Path: guard.RouteEvents},
		{ID: "safety", Label: "Safety", Path: guard.RouteSafety, AllowedRoles: users.RequireRoles(users.RoleAdmin, users.RoleOperator)},
		{ID: "analytics", Label: "Analytics", Path: guard.RouteAnalytics, AllowedRoles: users.RequireRoles(users.RoleAdmin, users.RoleAnalyst)},
		{ID: ProfileID, Label: "Profile", Path: guard.RouteProfile},
	}
}

// Filter returns the part of tree visible in state. It does not modify tree.
// Nothing is visible unless the session is authenticated.
func Filter(tree []Node, state session.State) []Node {
	if !state.IsAuthenticated() {
		return []Node{}
	}
	return filter(tree, state.Role())
}

func filter(nodes []Node, role users.Role) []Node {
	visible := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		selfVisible := n.AllowedRoles.Permits(role)
		if !n.IsGroup() {
			if selfVisible {
				visible = append(visible, clone(n, nil))
			}
			continue
		}

		children := filter(n.Children, role)
		switch {
		case len(children) > 0 && selfVisible:
			visible = append(visible, clone(n, children))
		case len(children) == 0 && selfVisible && n.Path != "":
			visible = append(visible, clone(n, []Node{}))
		}
	}
	return visible
}

func clone(n Node, children []Node) Node {
	n.Children = children
	if n.AllowedRoles != nil {
		n.AllowedRoles = append(users.Roles{}, n.AllowedRoles...)
	}
	return n
}

// Split separates the profile entry from the main menu
func Split(nodes []Node) (main []Node, profile *Node) {
	main = make([]Node, 0, len(nodes))
	for i := range nodes {
		if nodes[i].ID == ProfileID {
			p := nodes[i]
			profile = &p
			continue
		}
		main = append(main, nodes[i])
	}
	return main, profile
}

// Flatten lists every visible leaf path in menu order, groups with a path included
func Flatten(nodes []Node) []Node {
	var out []Node
	for _, n := range nodes {
		if n.Path != "" {
			out = append(out, clone(n, nil))
		}
		out = append(out, Flatten(n.Children)...)
	}
	return out
}
