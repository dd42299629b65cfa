package reconciliation

import (
	"io"
	"net/http"

	"creator-booking/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

type Handler struct {
	pipeline *Pipeline
}

func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.POST("/webhooks/stripe", h.Stripe)
}

// Stripe acknowledges every verified delivery with 200 except when a
// critical write failed, which answers 500 so the event is redelivered.
func (h *Handler) Stripe(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		_ = c.Error(errutil.BadRequest("unreadable webhook body", err))
		return
	}

	if err := h.pipeline.Handle(c.Request.Context(), body, c.GetHeader("Stripe-Signature")); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
