package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/internal/adapter"
	"github.com/staybook/service-booking/internal/application"
	"github.com/staybook/service-booking/pkg/response"
)

const maxWebhookBody = 64 << 10

// WebhookHandler receives payment gateway callbacks. The route is public; the
// payload signature is the only authentication.
type WebhookHandler struct {
	processor *application.WebhookProcessor
	logger    *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(processor *application.WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: logger}
}

// RegisterRoutes registers webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleStripe)
}

// HandleStripe handles POST /api/v1/webhooks/stripe. Any non-2xx answer makes
// the gateway redeliver the event.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable webhook body")
		return
	}

	result, err := h.processor.Process(c.Request.Context(), payload, c.GetHeader(adapter.SignatureHeader))
	if err != nil {
		h.logger.Warn("webhook not acknowledged", zap.Error(err))
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "result": result})
}
