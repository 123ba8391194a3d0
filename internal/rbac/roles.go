package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleConsumer   = "consumer"
	RoleProvider   = "provider"
	RoleSupport    = "support" // hidden role for internal tooling
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupport }
