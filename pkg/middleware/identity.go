package middleware

import (
	"strings"

	"creator-booking/pkg/errutil"
	"creator-booking/pkg/identity"

	"github.com/gin-gonic/gin"
)

// Identity resolves the bearer token, when present, into the request
// context. Anonymous requests pass through; invalid tokens are rejected.
func Identity(lookup identity.Lookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			c.Next()
			return
		}

		if !strings.HasPrefix(h, "Bearer ") {
			_ = c.Error(errutil.Unauthorized("malformed authorization header", nil))
			c.Abort()
			return
		}

		userID, err := lookup.UserID(c.Request.Context(), strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			_ = c.Error(errutil.Unauthorized("invalid credential", err))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(identity.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// RequireUser rejects anonymous callers.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.UserIDFrom(c.Request.Context()); !ok {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
