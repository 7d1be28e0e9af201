// SPDX-License-Identifier: AGPL-3.0-only
package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	UserIDHeader = "X-User-ID"
	userIDKey    = "user_id"
)

var validUserID = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,128}$`)

// IdentityMiddleware resolves the acting user from the X-User-ID header,
// falling back to defaultUserID.
func IdentityMiddleware(defaultUserID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPublicRoute(c.Request.URL.Path) {
			c.Next()
			return
		}

		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			userID = defaultUserID
		}

		if !validUserID.MatchString(userID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid or missing " + UserIDHeader})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the user resolved by IdentityMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func isPublicRoute(path string) bool {
	publicPrefixes := []string{
		"/health",
		"/metrics",
	}

	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
