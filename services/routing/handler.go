package routing

import (
	"net/http"
	"strings"

	"creator-booking/pkg/identity"
	"creator-booking/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	resolver *Resolver
}

func NewHandler(r *Resolver) *Handler {
	return &Handler{resolver: r}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/book", middleware.Visitor(), h.Book)
}

// Book redirects the visitor to the resolved booking destination.
func (h *Handler) Book(c *gin.Context) {
	ctx := c.Request.Context()

	viewerID, ok := identity.UserIDFrom(ctx)
	if !ok {
		viewerID = middleware.VisitorID(ctx)
	}

	dest, err := h.resolver.Resolve(ctx, Request{
		CreatorID: strings.TrimSpace(c.Query("creator_id")),
		ContentID: strings.TrimSpace(c.Query("content_id")),
		ViewerID:  viewerID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, dest.URL)
}
