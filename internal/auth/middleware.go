package auth

import (
	"net/http"
	"strings"

	"onboarding-calls/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireAccessToken authenticates the bearer token and attaches the caller's
// Identity to the request context. Role checks live in internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Verify(tok, TokenTypeAccess, m.clock())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := claims.Identity()
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		// Read by the access log.
		c.Set("user_id", id.UserID)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshHandler trades a valid refresh token for a new token pair.
func RefreshHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
			return
		}
		pair, err := m.Refresh(req.RefreshToken, m.clock())
		if err != nil {
			logger.FromGin(c).Debug("refresh token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}
