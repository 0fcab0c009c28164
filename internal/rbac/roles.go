package rbac

// Role names. Keep these stable; they travel inside issued tokens.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleAgent      = "agent"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
