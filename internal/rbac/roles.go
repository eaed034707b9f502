package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// IsAdmin reports whether role bypasses route role checks.
func IsAdmin(role string) bool { return role == RoleAdmin }

// Valid reports whether role is one this service issues tokens for.
func Valid(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}
