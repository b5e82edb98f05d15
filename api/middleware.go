package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"soraq/config"
)

const sessionUserKey = "sessionUser"

func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthEnable {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization header format"})
			return
		}

		if parts[1] != cfg.AuthKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Next()
	}
}

// SessionMiddleware picks up the signed-in user forwarded by the identity
// proxy in front of the service. No header means no session.
func SessionMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.SessionHeader != "" {
			if user := strings.TrimSpace(c.GetHeader(cfg.SessionHeader)); user != "" {
				c.Set(sessionUserKey, user)
			}
		}
		c.Next()
	}
}

func sessionUser(c *gin.Context) string {
	return c.GetString(sessionUserKey)
}
