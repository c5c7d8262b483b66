package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ukschat/ukschat/internal/config"
	"github.com/ukschat/ukschat/internal/models"
	"github.com/ukschat/ukschat/internal/security"
	"gorm.io/gorm"
)

const (
	userIDKey    = "userID"
	userEmailKey = "userEmail"
	userRoleKey  = "userRole"
)

// RequireUser validates the bearer JWT and loads the user into the context.
func RequireUser(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, http.StatusUnauthorized, "Not authenticated")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			AbortWithError(c, http.StatusUnauthorized, "Invalid authorization format")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			AbortWithError(c, http.StatusUnauthorized, "Not authenticated")
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, token)
		if errJWT != nil {
			AbortWithError(c, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			AbortWithError(c, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		c.Set(userIDKey, user.ID)
		c.Set(userEmailKey, user.Email)
		c.Set(userRoleKey, user.Role)
		c.Next()
	}
}

// RequireAdmin rejects users without the admin role. It must run after RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(userRoleKey) != models.RoleAdmin {
			AbortWithError(c, http.StatusForbidden, "Admin access required")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user ID, or 0.
func UserID(c *gin.Context) uint64 {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0
	}
	id, _ := v.(uint64)
	return id
}

// UserEmail returns the authenticated user's email.
func UserEmail(c *gin.Context) string {
	return c.GetString(userEmailKey)
}

// UserRole returns the authenticated user's role.
func UserRole(c *gin.Context) string {
	return c.GetString(userRoleKey)
}
