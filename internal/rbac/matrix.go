package rbac

import "github.com/odyssey-erp/odyssey-authz/internal/shared"

// Matrix is the tenant-independent role to permission table.
type Matrix struct {
	grants map[Role]map[string]struct{}
}

// NewMatrix copies the provided table into an immutable Matrix.
func NewMatrix(table map[Role][]string) Matrix {
	grants := make(map[Role]map[string]struct{}, len(table))
	for role, perms := range table {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[NormalizePermission(p)] = struct{}{}
		}
		grants[role] = set
	}
	return Matrix{grants: grants}
}

// Grants reports whether role holds permission directly or through the
// "<resource>.manage" wildcard, and which rule matched.
func (m Matrix) Grants(role Role, permission string) (bool, string) {
	set := m.grants[role]
	if len(set) == 0 {
		return false, ReasonNotGranted
	}
	if _, ok := set[permission]; ok {
		return true, ReasonStaticMatrix
	}
	if resource := ResourceOf(permission); resource != "" {
		if _, ok := set[resource+".manage"]; ok {
			return true, ReasonStaticMatrixManage
		}
	}
	return false, ReasonNotGranted
}

// Permissions lists the raw entries for role.
func (m Matrix) Permissions(role Role) []string {
	set := m.grants[role]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// DefaultMatrix is the built-in table shipped with the service.
func DefaultMatrix() Matrix {
	return NewMatrix(map[Role][]string{
		RoleAdmin: {
			shared.PermDashboardView,
			shared.PermStudentsManage,
			shared.PermLessonsManage,
			shared.PermReportsView,
			shared.PermReportsExport,
			shared.PermDataExport,
			shared.PermDataDelete,
			shared.PermUsersManage,
			shared.PermSettingsManage,
			shared.PermOverridesManage,
			shared.PermAuditView,
		},
		RoleDirector: {
			shared.PermDashboardView,
			shared.PermStudentsManage,
			shared.PermLessonsManage,
			shared.PermReportsView,
			shared.PermReportsExport,
			shared.PermDataExport,
			shared.PermUsersView,
			shared.PermAuditView,
		},
		RoleCoordinator: {
			shared.PermDashboardView,
			shared.PermStudentsView,
			shared.PermStudentsEdit,
			shared.PermLessonsView,
			shared.PermLessonsCreate,
			shared.PermLessonsApprove,
			shared.PermReportsView,
		},
		RoleTeacher: {
			shared.PermDashboardView,
			shared.PermStudentsView,
			shared.PermLessonsView,
			shared.PermLessonsCreate,
		},
		RoleStaff: {
			shared.PermDashboardView,
			shared.PermStudentsView,
		},
	})
}
