package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/ModbusStation/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	ctxPermissions = "permissions"
	ctxUserID      = "user_id"
	ctxUsername    = "username"
	ctxRole        = "role"
)

// AuthMiddleware validates bearer tokens and stores the caller's identity
// in the gin context.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid authorization header format", nil))
			return
		}

		claims, permissions, err := a.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid or expired token", nil))
			return
		}

		c.Set(ctxPermissions, permissions)
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUsername, claims.Username)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		permissions := GetUserPermissions(c)
		if permissions == nil {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("FORBIDDEN", "no permissions found", nil))
			return
		}

		for _, p := range permissions {
			if p == required {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden,
			types.NewErrorResponse("FORBIDDEN", "insufficient permissions", gin.H{"required": string(required)}))
	}
}

// GetUserPermissions extracts permissions from context
func GetUserPermissions(c *gin.Context) []Permission {
	if perms, ok := c.Get(ctxPermissions); ok {
		if p, ok := perms.([]Permission); ok {
			return p
		}
	}
	return nil
}

func GetUsername(c *gin.Context) string {
	return c.GetString(ctxUsername)
}
