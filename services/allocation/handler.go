package allocation

import (
	"net/http"

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
	g := r.Group("", middleware.RequireUser())
	g.GET("/closers", h.ListTargets)
	g.POST("/closers", h.CreateTarget)
	g.PATCH("/closers/:id", h.UpdateTarget)
	g.DELETE("/closers/:id", h.DeleteTarget)
	g.GET("/routing", h.GetRouting)
	g.PUT("/routing", h.PutRouting)
}

func creatorID(c *gin.Context) string {
	id, _ := identity.UserIDFrom(c.Request.Context())
	return id
}

func (h *Handler) ListTargets(c *gin.Context) {
	out, err := h.svc.ListTargets(c.Request.Context(), creatorID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closers": out})
}

func (h *Handler) CreateTarget(c *gin.Context) {
	var in TargetInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	out, err := h.svc.CreateTarget(c.Request.Context(), creatorID(c), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) UpdateTarget(c *gin.Context) {
	var in TargetInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	out, err := h.svc.UpdateTarget(c.Request.Context(), creatorID(c), c.Param("id"), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteTarget(c *gin.Context) {
	if err := h.svc.DeleteTarget(c.Request.Context(), creatorID(c), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetRouting(c *gin.Context) {
	out, err := h.svc.GetRouting(c.Request.Context(), creatorID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) PutRouting(c *gin.Context) {
	var in RoutingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	out, err := h.svc.PutRouting(c.Request.Context(), creatorID(c), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
