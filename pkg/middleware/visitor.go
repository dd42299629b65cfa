package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const VisitorCookie = "bk_vid"

type visitorKey struct{}

// Visitor gives anonymous visitors a stable id cookie so sticky routing
// keeps sending them to the same closer.
func Visitor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(VisitorCookie)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(VisitorCookie, id, int((365 * 24 * time.Hour).Seconds()), "/", "", false, true)
		}

		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), visitorKey{}, id))
		c.Next()
	}
}

func VisitorID(ctx context.Context) string {
	id, _ := ctx.Value(visitorKey{}).(string)
	return id
}
