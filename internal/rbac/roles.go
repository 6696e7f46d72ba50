package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
	RoleSuperAdmin = "super_admin"

	// RoleService is held by internal collaborators (billing reconciliation, notification system).
	// It is never granted implicitly.
	RoleService = "service"
)

// Managers may change tenant-level settings and credits.
var Managers = []string{RoleOwner, RoleAdmin}

// Staff may place and inspect calls.
var Staff = []string{RoleOwner, RoleAdmin, RoleAgent}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
