package handlers

import (
	"io"
	"net/http"

	"github.com/giftvault/giftvault/internal/payments"
	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20

// WebhookHandler receives payment gateway notifications.
type WebhookHandler struct {
	payments *payments.Service
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(service *payments.Service) *WebhookHandler {
	return &WebhookHandler{payments: service}
}

// Payments verifies and dispatches a gateway event. The signature covers
// the raw body, so it is read before any decoding.
func (h *WebhookHandler) Payments(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		badRequest(c, "unreadable body")
		return
	}
	result, errHandle := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if errHandle != nil {
		writeError(c, errHandle)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "handled": result.Handled, "eventType": result.EventType})
}
