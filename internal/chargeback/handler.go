// Package chargeback reacts to payment disputes: it cancels the funded card,
// claws back merchant payout, and restores value when a dispute is won.
package chargeback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dbutil "github.com/giftvault/giftvault/internal/db"
	"github.com/giftvault/giftvault/internal/events"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/metrics"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/notify"
	"github.com/giftvault/giftvault/internal/redemption"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrChargebackResolved rejects a transition out of a terminal status.
var ErrChargebackResolved = &ledger.ValidationError{Code: "chargeback_resolved", Message: "chargeback is already resolved"}

// Handler owns the chargeback lifecycle.
type Handler struct {
	engine   *redemption.Engine
	notifier *notify.Notifier
	emitter  *events.Emitter
}

// NewHandler wires a handler. notifier and emitter may be nil.
func NewHandler(engine *redemption.Engine, notifier *notify.Notifier, emitter *events.Emitter) *Handler {
	if notifier == nil {
		notifier = notify.New(nil)
	}
	if emitter == nil {
		emitter = events.NewEmitter(nil)
	}
	return &Handler{engine: engine, notifier: notifier, emitter: emitter}
}

func (h *Handler) db(ctx context.Context) *gorm.DB {
	return h.engine.Store().DB().WithContext(ctx)
}

// DisputeInput is a dispute notification from the payment gateway.
type DisputeInput struct {
	PaymentRef   string
	ChargebackID string
	Amount       int64
	Fee          int64
	Reason       string
	// GiftCardID is used when the payment row has no linked card.
	GiftCardID *uint64
}

func (in DisputeInput) validate() error {
	if strings.TrimSpace(in.PaymentRef) == "" {
		return ledger.Invalid(ledger.ErrInvalidInput, "payment reference is required")
	}
	if strings.TrimSpace(in.ChargebackID) == "" {
		return ledger.Invalid(ledger.ErrInvalidInput, "chargeback id is required")
	}
	if in.Amount < 0 || in.Fee < 0 {
		return ledger.Invalid(ledger.ErrInvalidAmount, "chargeback amount and fee must not be negative")
	}
	return nil
}

type chargebackEvent struct {
	ChargebackID uint64                  `json:"chargebackId"`
	ExternalID   string                  `json:"externalId"`
	PaymentID    uint64                  `json:"paymentId"`
	GiftCardID   *uint64                 `json:"giftCardId,omitempty"`
	Amount       int64                   `json:"amount"`
	Fee          int64                   `json:"fee"`
	Status       models.ChargebackStatus `json:"status"`
}

func eventOf(cb *models.Chargeback) chargebackEvent {
	return chargebackEvent{
		ChargebackID: cb.ID, ExternalID: cb.ExternalID, PaymentID: cb.PaymentID, GiftCardID: cb.GiftCardID,
		Amount: cb.Amount, Fee: cb.Fee, Status: cb.Status,
	}
}

// HandleDispute records a dispute. A repeated ChargebackID returns the
// existing record without side effects.
func (h *Handler) HandleDispute(ctx context.Context, in DisputeInput) (*models.Chargeback, error) {
	if errValidate := in.validate(); errValidate != nil {
		return nil, errValidate
	}
	externalID := strings.TrimSpace(in.ChargebackID)
	if existing, errFind := h.GetByExternalID(ctx, externalID); errFind == nil {
		log.WithField("external_id", externalID).Info("chargeback already recorded")
		return existing, nil
	} else if !ledger.IsNotFound(errFind) {
		return nil, errFind
	}

	var (
		cb        *models.Chargeback
		payment   models.Payment
		mutation  *redemption.Mutation
		duplicate bool
	)
	errRun := h.engine.Atomically(ctx, func(tx *gorm.DB) error {
		cb, mutation, duplicate = nil, nil, false

		var existing models.Chargeback
		errExisting := tx.Where("external_id = ?", externalID).First(&existing).Error
		if errExisting == nil {
			cb, duplicate = &existing, true
			return nil
		}
		if !errors.Is(errExisting, gorm.ErrRecordNotFound) {
			return fmt.Errorf("chargeback: lookup: %w", errExisting)
		}

		if errPayment := dbutil.ForUpdate(tx).Where("provider_ref = ?", strings.TrimSpace(in.PaymentRef)).First(&payment).Error; errPayment != nil {
			if errors.Is(errPayment, gorm.ErrRecordNotFound) {
				return ledger.NotFound("payment", in.PaymentRef)
			}
			return fmt.Errorf("chargeback: load payment: %w", errPayment)
		}
		cardID := payment.GiftCardID
		if cardID == nil {
			cardID = in.GiftCardID
		}

		now := h.engine.Store().Now()
		cb = &models.Chargeback{
			ExternalID: externalID,
			PaymentID:  payment.ID,
			GiftCardID: cardID,
			Amount:     in.Amount,
			Fee:        in.Fee,
			Reason:     strings.TrimSpace(in.Reason),
			Status:     models.ChargebackStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if errCreate := tx.Create(cb).Error; errCreate != nil {
			return fmt.Errorf("chargeback: create: %w", errCreate)
		}
		meta := models.NewChargebackMetadata(models.ChargebackMetadata{
			ChargebackID: cb.ID,
			ExternalID:   externalID,
			Reason:       cb.Reason,
			Phase:        models.ChargebackPhaseCancel,
		})
		if errMeta := tx.Model(cb).Update("metadata", meta).Error; errMeta != nil {
			return fmt.Errorf("chargeback: set metadata: %w", errMeta)
		}
		cb.Metadata = meta

		if cardID != nil {
			card, errLock := h.engine.Store().LockCard(tx, ledger.CardRef{ID: *cardID})
			if errLock != nil && !ledger.IsNotFound(errLock) {
				return errLock
			}
			if card != nil && (card.Status == models.GiftCardStatusActive || card.Status == models.GiftCardStatusRedeemed) {
				m, errRefund := h.engine.RefundTx(ctx, tx, redemption.RefundInput{
					CardID:    card.ID,
					Amount:    -card.Balance,
					Reason:    "chargeback",
					PaymentID: &payment.ID,
					Cancel:    true,
					Metadata:  &meta,
				})
				if errRefund != nil {
					return errRefund
				}
				mutation = m
			}
		}

		if errPaid := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).
			Updates(map[string]any{"status": models.PaymentStatusRefunded, "updated_at": now}).Error; errPaid != nil {
			return fmt.Errorf("chargeback: mark payment refunded: %w", errPaid)
		}
		return ledger.AdjustPayout(tx, payment.MerchantID, -(in.Amount + in.Fee))
	})
	if errRun != nil {
		return nil, errRun
	}
	if duplicate {
		return cb, nil
	}

	h.engine.Committed(ctx, mutation)
	h.emitter.Emit(ctx, events.TypeChargebackOpened, fmt.Sprintf("chargeback-%d", cb.ID), eventOf(cb))
	metrics.ChargebacksTotal.WithLabelValues(string(models.ChargebackStatusPending)).Inc()
	log.WithFields(log.Fields{
		"chargeback_id": cb.ID,
		"external_id":   cb.ExternalID,
		"payment_id":    cb.PaymentID,
		"amount":        cb.Amount,
		"fee":           cb.Fee,
	}).Info("chargeback opened")

	h.notifier.ChargebackOpened(ctx, h.loadMerchant(ctx, payment.MerchantID), &payment, cb)
	return cb, nil
}

func (h *Handler) loadMerchant(ctx context.Context, id uint64) *models.Merchant {
	var merchant models.Merchant
	if errFind := h.db(ctx).First(&merchant, id).Error; errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).WithField("merchant_id", id).Warn("chargeback: load merchant failed")
		}
		return nil
	}
	return &merchant
}

// UpdateStatus resolves a PENDING chargeback. WON restores the card to its
// full face value and credits the merchant with amount plus fee.
func (h *Handler) UpdateStatus(ctx context.Context, id uint64, status models.ChargebackStatus, evidence *string) (*models.Chargeback, error) {
	if !status.Terminal() {
		return nil, ledger.Invalid(ledger.ErrInvalidInput, "chargeback status must be WON, LOST, or WITHDRAWN")
	}
	var (
		cb       models.Chargeback
		mutation *redemption.Mutation
	)
	errRun := h.engine.Atomically(ctx, func(tx *gorm.DB) error {
		mutation = nil
		if errFind := dbutil.ForUpdate(tx).First(&cb, id).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ledger.NotFound("chargeback", id)
			}
			return fmt.Errorf("chargeback: load: %w", errFind)
		}
		if cb.Status != models.ChargebackStatusPending {
			return ledger.Invalid(ErrChargebackResolved, "chargeback %s is already %s", cb.ExternalID, cb.Status)
		}

		if status == models.ChargebackStatusWon {
			if cb.GiftCardID != nil {
				m, errRestore := h.engine.RestoreTx(ctx, tx, redemption.RestoreInput{
					CardID:       *cb.GiftCardID,
					Reason:       "chargeback won",
					ChargebackID: cb.ID,
					ExternalID:   cb.ExternalID,
				})
				if errRestore != nil && !ledger.IsNotFound(errRestore) {
					return errRestore
				}
				mutation = m
			}
			var payment models.Payment
			if errPayment := tx.First(&payment, cb.PaymentID).Error; errPayment == nil {
				if errCredit := ledger.AdjustPayout(tx, payment.MerchantID, cb.Amount+cb.Fee); errCredit != nil {
					return errCredit
				}
			} else if !errors.Is(errPayment, gorm.ErrRecordNotFound) {
				return fmt.Errorf("chargeback: load payment: %w", errPayment)
			}
		}

		now := h.engine.Store().Now()
		updates := map[string]any{"status": status, "resolved_at": now, "updated_at": now}
		if evidence != nil {
			updates["evidence"] = *evidence
		}
		if errUpdate := tx.Model(&models.Chargeback{}).Where("id = ?", cb.ID).Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("chargeback: update status: %w", errUpdate)
		}
		cb.Status = status
		cb.ResolvedAt = &now
		cb.UpdatedAt = now
		if evidence != nil {
			cb.Evidence = evidence
		}
		return nil
	})
	if errRun != nil {
		return nil, errRun
	}

	h.engine.Committed(ctx, mutation)
	h.emitter.Emit(ctx, events.TypeChargebackResolved, fmt.Sprintf("chargeback-%d", cb.ID), eventOf(&cb))
	metrics.ChargebacksTotal.WithLabelValues(string(status)).Inc()
	log.WithFields(log.Fields{"chargeback_id": cb.ID, "status": status}).Info("chargeback resolved")

	var payment models.Payment
	if errPayment := h.db(ctx).First(&payment, cb.PaymentID).Error; errPayment == nil {
		h.notifier.ChargebackResolved(ctx, h.loadMerchant(ctx, payment.MerchantID), &cb)
	}
	return &cb, nil
}

// UpdateStatusByExternalID resolves a chargeback by its gateway id.
func (h *Handler) UpdateStatusByExternalID(ctx context.Context, externalID string, status models.ChargebackStatus, evidence *string) (*models.Chargeback, error) {
	cb, errFind := h.GetByExternalID(ctx, externalID)
	if errFind != nil {
		return nil, errFind
	}
	return h.UpdateStatus(ctx, cb.ID, status, evidence)
}

// Get returns a chargeback by id.
func (h *Handler) Get(ctx context.Context, id uint64) (*models.Chargeback, error) {
	var cb models.Chargeback
	if errFind := h.db(ctx).First(&cb, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ledger.NotFound("chargeback", id)
		}
		return nil, fmt.Errorf("chargeback: get: %w", errFind)
	}
	return &cb, nil
}

// GetByExternalID returns a chargeback by its gateway id.
func (h *Handler) GetByExternalID(ctx context.Context, externalID string) (*models.Chargeback, error) {
	var cb models.Chargeback
	if errFind := h.db(ctx).Where("external_id = ?", strings.TrimSpace(externalID)).First(&cb).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ledger.NotFound("chargeback", externalID)
		}
		return nil, fmt.Errorf("chargeback: get by external id: %w", errFind)
	}
	return &cb, nil
}

// ListByCard returns a card's chargebacks, newest first.
func (h *Handler) ListByCard(ctx context.Context, cardID uint64) ([]models.Chargeback, error) {
	var rows []models.Chargeback
	if errFind := h.db(ctx).Where("gift_card_id = ?", cardID).Order("created_at DESC, id DESC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("chargeback: list: %w", errFind)
	}
	return rows, nil
}
