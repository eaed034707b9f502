package rbac

import (
	"net/http"

	"onboarding-calls/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin bypasses all checks. Run it after auth.RequireAccessToken.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		role := id.Role
		if !ok || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CanTrigger lists the roles allowed to start calls and run imports.
func CanTrigger() gin.HandlerFunc { return RequireAnyRole(RoleAdmin, RoleOperator) }

// CanRead lists the roles allowed to read calls, riders and reports.
func CanRead() gin.HandlerFunc { return RequireAnyRole(RoleAdmin, RoleOperator, RoleViewer) }
