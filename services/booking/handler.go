package booking

import (
	"net/http"

	"creator-booking/pkg/db/pagination"
	"creator-booking/pkg/errutil"
	"creator-booking/pkg/identity"
	"creator-booking/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	g := r.Group("/bookings", middleware.RequireUser())
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
}

func callerID(c *gin.Context) string {
	id, _ := identity.UserIDFrom(c.Request.Context())
	return id
}

func (h *Handler) List(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, info, err := h.svc.List(c.Request.Context(), callerID(c), p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": rows, "page_info": info})
}

func (h *Handler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	b, err := h.svc.GetOwned(ctx, callerID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	payments, err := h.svc.Payments(ctx, b.ID)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to load booking payments", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b, "payments": payments})
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), callerID(c), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
