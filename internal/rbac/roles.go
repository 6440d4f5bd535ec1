package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSuperAdmin   = "super_admin"
	RoleAdmin        = "admin"
	RoleCompanyOwner = "company_owner"
	RoleCompanyUser  = "company_user"
)

// Permission names one billing capability.
type Permission string

const (
	PermManageResources   Permission = "resources.manage"
	PermManageAssignments Permission = "assignments.manage"
	PermGenerateInvoices  Permission = "invoices.generate"
	PermManageInvoices    Permission = "invoices.manage"
	PermManageCalls       Permission = "calls.manage"
	PermViewAllInvoices   Permission = "invoices.view_all"
	PermViewDashboard     Permission = "reports.dashboard"

	PermViewOwnInvoices Permission = "invoices.view_own"
	PermEditFeedback    Permission = "calls.feedback"
	PermViewOwnReports  Permission = "reports.view_own"
)

var staffPermissions = []Permission{
	PermManageResources, PermManageAssignments, PermGenerateInvoices, PermManageInvoices,
	PermManageCalls, PermViewAllInvoices, PermViewDashboard,
}

var grants = map[string]map[Permission]struct{}{
	RoleAdmin:        set(staffPermissions...),
	RoleCompanyOwner: set(PermViewOwnInvoices, PermEditFeedback, PermViewOwnReports),
	RoleCompanyUser:  set(PermViewOwnInvoices, PermEditFeedback),
}

func set(ps ...Permission) map[Permission]struct{} {
	out := make(map[Permission]struct{}, len(ps))
	for _, p := range ps {
		out[p] = struct{}{}
	}
	return out
}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsStaff reports platform roles that act across companies.
func IsStaff(role string) bool { return role == RoleSuperAdmin || role == RoleAdmin }

// Can reports whether role holds p. super_admin holds every permission.
func Can(role string, p Permission) bool {
	if IsSuperAdmin(role) {
		return true
	}
	_, ok := grants[role][p]
	return ok
}
