package auth

import "strings"

// UserRole is the user's role
type UserRole string

const (
	// RoleGuest can only view public resources
	RoleGuest UserRole = "guest"
	// RoleFree is the default role for self registered accounts
	RoleFree UserRole = "free"
	// RoleRegular is a paying member
	RoleRegular UserRole = "regular"
	// RoleAdmin manages other accounts
	RoleAdmin UserRole = "admin"
	// RoleOwner can do everything
	RoleOwner UserRole = "owner"
)

// DefaultRole is assigned to accounts created through registration
const DefaultRole = RoleFree

var roleHierarchy = map[UserRole]int{
	RoleGuest:   0,
	RoleFree:    1,
	RoleRegular: 2,
	RoleAdmin:   3,
	RoleOwner:   4,
}

// legacy three value variants
var roleAliases = map[string]UserRole{
	"user":   RoleFree,
	"member": RoleRegular,
}

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// CanEdit checks if this role can edit its own resources
func (r UserRole) CanEdit() bool {
	return r.IsAtLeast(RoleFree)
}

// IsAdmin checks if this role can manage other accounts
func (r UserRole) IsAdmin() bool {
	return r.IsAtLeast(RoleAdmin)
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleGuest,
		RoleFree,
		RoleRegular,
		RoleAdmin,
		RoleOwner,
	}
}

// ParseRole safely parses a string into a UserRole type.
// Names used by older deployments are accepted as aliases.
func ParseRole(roleStr string) (UserRole, bool) {
	name := strings.ToLower(strings.TrimSpace(roleStr))
	if alias, ok := roleAliases[name]; ok {
		return alias, true
	}
	role := UserRole(name)
	return role, role.IsValid()
}

// RoleFromLegacyCode maps the integer codes 1..5 to a canonical role
func RoleFromLegacyCode(code int) (UserRole, bool) {
	roles := GetAllRoles()
	if code < 1 || code > len(roles) {
		return "", false
	}
	return roles[code-1], true
}
