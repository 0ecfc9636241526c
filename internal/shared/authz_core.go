package shared

// Core platform permissions.
const (
	PermDashboardView = "dashboard.view"

	PermStudentsView   = "students.view"
	PermStudentsEdit   = "students.edit"
	PermStudentsManage = "students.manage"

	PermLessonsView    = "lessons.view"
	PermLessonsCreate  = "lessons.create"
	PermLessonsApprove = "lessons.approve"
	PermLessonsManage  = "lessons.manage"

	PermReportsView   = "reports.view"
	PermReportsExport = "reports.export"

	PermDataExport = "data.export"
	PermDataDelete = "data.delete"

	PermUsersView   = "users.view"
	PermUsersManage = "users.manage"

	PermSettingsManage  = "settings.manage"
	PermOverridesManage = "overrides.manage"
	PermAuditView       = "audit.view"
)

// CoreScopes lists all permissions known to the static matrix.
func CoreScopes() []string {
	return []string{
		PermDashboardView,
		PermStudentsView,
		PermStudentsEdit,
		PermStudentsManage,
		PermLessonsView,
		PermLessonsCreate,
		PermLessonsApprove,
		PermLessonsManage,
		PermReportsView,
		PermReportsExport,
		PermDataExport,
		PermDataDelete,
		PermUsersView,
		PermUsersManage,
		PermSettingsManage,
		PermOverridesManage,
		PermAuditView,
	}
}
