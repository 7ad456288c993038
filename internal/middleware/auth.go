package middleware

import (
	"errors"
	"net/http"
	"strings"

	"portal-backend/internal/auth"
	"portal-backend/internal/models"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// AuthMiddleware resolves the bearer token and stores user_id, role and the
// full identity in the gin context. Browsers cannot set headers on a
// websocket handshake, so an access_token query parameter is accepted on
// upgrade requests.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Unable to verify token"})
			return
		}

		c.Set("user_id", identity.UserID)
		c.Set("role", identity.Role)
		c.Set(identityKey, identity)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if c.IsWebsocket() {
		return c.Query("access_token")
	}
	return ""
}

// GetIdentity returns the caller resolved by AuthMiddleware.
func GetIdentity(c *gin.Context) (*models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*models.Identity)
	return identity, ok
}

func requireRole(role, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": message})
			return
		}
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return requireRole(models.RoleAdmin, "Admin access required")
}

func ClientOnly() gin.HandlerFunc {
	return requireRole(models.RoleClient, "Client access required")
}
