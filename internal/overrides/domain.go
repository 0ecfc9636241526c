package overrides

import (
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// PermissionOverride is a tenant rule that supersedes the static matrix for
// one permission name.
type PermissionOverride struct {
	TenantID         string      `json:"tenant_id"`
	PermissionName   string      `json:"permission_name"`
	RolesRequired    []rbac.Role `json:"roles_required"`
	AutoApproveRoles []rbac.Role `json:"auto_approve_roles"`
	Active           bool        `json:"active"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Rule converts the record into the resolver's view.
func (o PermissionOverride) Rule() rbac.Override {
	return rbac.Override{
		TenantID:         o.TenantID,
		PermissionName:   o.PermissionName,
		RolesRequired:    o.RolesRequired,
		AutoApproveRoles: o.AutoApproveRoles,
		Active:           o.Active,
	}
}

// UpsertInput carries an administrator's create or update request.
// ExpectedVersion 0 creates a new override and fails if one exists.
type UpsertInput struct {
	TenantID         string   `validate:"required,max=64"`
	PermissionName   string   `validate:"required,max=128"`
	RolesRequired    []string `validate:"dive,required"`
	AutoApproveRoles []string `validate:"dive,required"`
	Active           bool
	ExpectedVersion  int64 `validate:"gte=0"`
}

func roleStrings(roles []rbac.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
