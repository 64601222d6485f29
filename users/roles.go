package users

import "strings"

// Role represents the authorization level asserted by the backend for a user
type Role string

const (
	RoleAdmin    Role = "admin"    // System control, including ports management
	RoleOperator Role = "operator" // Vessel tracking and safety overlays
	RoleAnalyst  Role = "analyst"  // Port analytics

	// RoleNone is any value outside the closed set. It passes "any authenticated" checks
	// and fails every role-gated one.
	RoleNone Role = ""
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleAnalyst:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// ParseRole normalises a claim or profile value into a Role. Unknown values map to RoleNone.
func ParseRole(roleStr string) Role {
	role := Role(strings.ToLower(strings.TrimSpace(roleStr)))
	if !role.IsValid() {
		return RoleNone
	}
	return role
}

// AllRoles returns every valid role
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleOperator, RoleAnalyst}
}

// Roles is a role requirement. A nil Roles means "any authenticated role";
// an empty non-nil Roles admits nobody.
type Roles []Role

// AnyRole is the nil requirement, spelled out for readability at call sites.
var AnyRole Roles

// RequireRoles builds a non-nil requirement from the given roles
func RequireRoles(roles ...Role) Roles {
	if roles == nil {
		return Roles{}
	}
	return Roles(roles)
}

// Permits reports whether a holder of role satisfies the requirement
func (rs Roles) Permits(role Role) bool {
	if rs == nil {
		return true
	}
	if !role.IsValid() {
		return false
	}
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}
