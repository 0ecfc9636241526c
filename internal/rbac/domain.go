package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Role is the closed set of roles a principal may hold.
type Role string

const (
	// RoleSuperAdmin bypasses resolution entirely.
	RoleSuperAdmin  Role = "super_admin"
	RoleAdmin       Role = "admin"
	RoleDirector    Role = "director"
	RoleCoordinator Role = "coordinator"
	RoleTeacher     Role = "teacher"
	RoleStaff       Role = "staff"
)

var knownRoles = map[Role]struct{}{
	RoleSuperAdmin:  {},
	RoleAdmin:       {},
	RoleDirector:    {},
	RoleCoordinator: {},
	RoleTeacher:     {},
	RoleStaff:       {},
}

// ParseRole canonicalises raw into a known Role. Comparison is case-insensitive
// at this boundary only; after parsing, roles compare by equality.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownRoles[role]; !ok {
		return "", shared.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", raw)}
	}
	return role, nil
}

// ParseRoles parses a list of roles, deduplicating and preserving order.
func ParseRoles(raw []string) ([]Role, error) {
	seen := make(map[Role]struct{}, len(raw))
	roles := make([]Role, 0, len(raw))
	for _, r := range raw {
		role, err := ParseRole(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles, nil
}

// IsSuper reports whether the role is the distinguished super-role.
func (r Role) IsSuper() bool {
	return r == RoleSuperAdmin
}

// Principal describes the authenticated actor for one request.
type Principal struct {
	UserID    string
	TenantID  string
	Role      Role
	Locations []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasLocation reports whether the principal's token lists the location.
func (p Principal) HasLocation(location string) bool {
	for _, l := range p.Locations {
		if l == location {
			return true
		}
	}
	return false
}

// Decision is the outcome of resolving a permission for a principal.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
}

// Decision reasons.
const (
	ReasonSuperRole          = "super_role"
	ReasonOverride           = "override"
	ReasonOverrideNotListed  = "override_role_not_listed"
	ReasonStaticMatrix       = "static_matrix"
	ReasonStaticMatrixManage = "static_matrix_manage"
	ReasonNotGranted         = "not_granted"
	ReasonStorageUnavailable = "storage_unavailable"
)

// Override is the subset of a tenant override the resolver evaluates.
type Override struct {
	TenantID         string
	PermissionName   string
	RolesRequired    []Role
	AutoApproveRoles []Role
	Active           bool
}

// NormalizePermission trims and lowercases a permission name.
func NormalizePermission(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ResourceOf returns the prefix of a permission name before its last dot.
func ResourceOf(permission string) string {
	idx := strings.LastIndex(permission, ".")
	if idx <= 0 {
		return ""
	}
	return permission[:idx]
}
