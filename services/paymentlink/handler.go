package paymentlink

import (
	"net/http"

	"creator-booking/pkg/errutil"
	"creator-booking/pkg/identity"
	"creator-booking/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	issuer *Issuer
}

func NewHandler(i *Issuer) *Handler {
	return &Handler{issuer: i}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.POST("/bookings/:id/payment-link", middleware.RequireUser(), h.Create)
}

type createRequest struct {
	PlanType          string `json:"plan_type"`
	InstallmentMonths *int   `json:"installment_months"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	plan, err := ParsePlan(req.PlanType, req.InstallmentMonths)
	if err != nil {
		_ = c.Error(err)
		return
	}

	callerID, _ := identity.UserIDFrom(c.Request.Context())
	out, err := h.issuer.Issue(c.Request.Context(), callerID, c.Param("id"), plan)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, out)
}
