package middleware

import (
	"creator-booking/pkg/errutil"
	"creator-booking/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error as the JSON error
// envelope, unless the handler already wrote a response.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be := errutil.ToBaseError(last.Err)
		status := be.HTTPStatus()
		if status >= 500 {
			logger.FromContext(c.Request.Context()).Error("request failed",
				zap.String("path", c.FullPath()),
				zap.Error(last.Err),
			)
		}

		c.JSON(status, be.JSON())
	}
}
