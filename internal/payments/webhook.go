package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/giftvault/giftvault/internal/chargeback"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/security"
	log "github.com/sirupsen/logrus"
)

// Gateway event types.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
	EventDisputeCreated   = "charge.dispute.created"
	EventDisputeClosed    = "charge.dispute.closed"
)

// WebhookEvent is the gateway's notification body.
type WebhookEvent struct {
	EventType    string          `json:"eventType"`
	PaymentRef   string          `json:"paymentIntentOrOrderId"`
	Amount       int64           `json:"amount"`
	Fee          int64           `json:"fee,omitempty"`
	ChargebackID string          `json:"chargebackId,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Status       string          `json:"status,omitempty"`
	Evidence     *string         `json:"evidence,omitempty"`
	Metadata     WebhookMetadata `json:"metadata"`
}

// WebhookMetadata is the merchant-supplied metadata echoed by the gateway.
type WebhookMetadata struct {
	GiftCardID *uint64 `json:"giftCardId,omitempty"`
}

// WebhookResult reports what a webhook did.
type WebhookResult struct {
	EventType string `json:"eventType"`
	Handled   bool   `json:"handled"`
}

// HandleWebhook verifies the signature header over the raw body and
// dispatches the event. Unknown event types are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if errVerify := security.VerifyPayload(s.secret, body, signature); errVerify != nil {
		return WebhookResult{}, errVerify
	}
	var event WebhookEvent
	if errDecode := json.Unmarshal(body, &event); errDecode != nil {
		return WebhookResult{}, ledger.Invalid(ledger.ErrInvalidInput, "malformed webhook body: %v", errDecode)
	}
	return s.Dispatch(ctx, event)
}

// Dispatch routes a verified event to the matching operation.
func (s *Service) Dispatch(ctx context.Context, event WebhookEvent) (WebhookResult, error) {
	result := WebhookResult{EventType: event.EventType, Handled: true}
	fields := log.Fields{"event_type": event.EventType, "provider_ref": event.PaymentRef}
	if event.EventType != EventDisputeClosed && strings.TrimSpace(event.PaymentRef) == "" {
		return result, ledger.Invalid(ledger.ErrInvalidInput, "paymentIntentOrOrderId is required")
	}

	var errHandle error
	switch event.EventType {
	case EventPaymentCompleted:
		_, errHandle = s.Complete(ctx, event.PaymentRef, event.Amount, event.Fee)
	case EventPaymentFailed:
		_, errHandle = s.MarkFailed(ctx, event.PaymentRef)
	case EventPaymentRefunded:
		_, errHandle = s.RefundPayment(ctx, event.PaymentRef, event.Amount, event.Reason)
	case EventDisputeCreated:
		_, errHandle = s.chargebacks.HandleDispute(ctx, chargeback.DisputeInput{
			PaymentRef:   event.PaymentRef,
			ChargebackID: event.ChargebackID,
			Amount:       event.Amount,
			Fee:          event.Fee,
			Reason:       event.Reason,
			GiftCardID:   event.Metadata.GiftCardID,
		})
	case EventDisputeClosed:
		status, errStatus := parseDisputeStatus(event.Status)
		if errStatus != nil {
			return result, errStatus
		}
		_, errHandle = s.chargebacks.UpdateStatusByExternalID(ctx, event.ChargebackID, status, event.Evidence)
	default:
		log.WithFields(fields).Info("webhook: ignoring unknown event type")
		result.Handled = false
		return result, nil
	}
	if errHandle != nil {
		return result, fmt.Errorf("payments: %s: %w", event.EventType, errHandle)
	}
	log.WithFields(fields).Info("webhook handled")
	return result, nil
}

func parseDisputeStatus(raw string) (models.ChargebackStatus, error) {
	status := models.ChargebackStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Terminal() {
		return "", ledger.Invalid(ledger.ErrInvalidInput, "dispute status %q is not terminal", raw)
	}
	return status, nil
}
