package auth

import "github.com/carehub/platform/internal/apperr"

// Role is a user's role within one organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ValidRole reports whether r is a known membership role.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Permission is a capability checked by handlers.
type Permission string

const (
	PermViewOrganization   Permission = "view_organization"
	PermManageOrganization Permission = "manage_organization"
	PermViewMembers        Permission = "view_members"
	PermManageMembers      Permission = "manage_members"
	PermManageOwners       Permission = "manage_owners"
	PermViewBilling        Permission = "view_billing"
	PermManageBilling      Permission = "manage_billing"
	PermViewAuditLogs      Permission = "view_audit_logs"
	PermUploadFiles        Permission = "upload_files"
	PermViewEntitlements   Permission = "view_entitlements"
)

var memberPermissions = []Permission{
	PermViewOrganization,
	PermViewMembers,
	PermUploadFiles,
	PermViewEntitlements,
}

var adminPermissions = append([]Permission{
	PermManageOrganization,
	PermManageMembers,
	PermViewBilling,
	PermViewAuditLogs,
}, memberPermissions...)

var ownerPermissions = append([]Permission{
	PermManageOwners,
	PermManageBilling,
}, adminPermissions...)

// rolePermissions is the one place role → capability is decided.
var rolePermissions = map[Role]map[Permission]bool{
	RoleMember: toSet(memberPermissions),
	RoleAdmin:  toSet(adminPermissions),
	RoleOwner:  toSet(ownerPermissions),
}

func toSet(perms []Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

// Can reports whether the resolved caller holds p. Superadmins hold every
// permission, including while impersonating.
func Can(ac *Context, p Permission) bool {
	if ac == nil {
		return false
	}
	if ac.IsSuperadmin {
		return true
	}
	return rolePermissions[ac.Role][p]
}

// Require returns a FORBIDDEN error when the caller lacks p.
func Require(ac *Context, p Permission) error {
	if Can(ac, p) {
		return nil
	}
	return apperr.Forbidden("You do not have permission to perform this action").WithReason("missing_permission")
}
