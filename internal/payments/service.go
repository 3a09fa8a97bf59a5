// Package payments turns payment gateway traffic into ledger operations:
// fraud-gated purchase intake and signed webhook dispatch.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giftvault/giftvault/internal/chargeback"
	dbutil "github.com/giftvault/giftvault/internal/db"
	"github.com/giftvault/giftvault/internal/fraud"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/redemption"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service owns the payment lifecycle of gift card purchases.
type Service struct {
	engine      *redemption.Engine
	gate        *fraud.Gate
	chargebacks *chargeback.Handler
	secret      string
}

// NewService wires the payment service. secret signs webhook bodies.
func NewService(engine *redemption.Engine, gate *fraud.Gate, chargebacks *chargeback.Handler, secret string) *Service {
	return &Service{engine: engine, gate: gate, chargebacks: chargebacks, secret: secret}
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.engine.Store().DB().WithContext(ctx)
}

// PurchaseInput is a customer's request to buy a card.
type PurchaseInput struct {
	ProviderRef   string
	MerchantID    uint64
	UserID        *uint64
	Amount        int64
	Currency      string
	Email         string
	Phone         string
	IPAddress     string
	PaymentMethod string

	ExpiryDays             int
	AllowPartialRedemption bool
	RecipientEmail         *string
	RecipientPhone         *string
}

func (in PurchaseInput) validate() error {
	if strings.TrimSpace(in.ProviderRef) == "" {
		return ledger.Invalid(ledger.ErrInvalidInput, "payment reference is required")
	}
	if in.MerchantID == 0 {
		return ledger.Invalid(ledger.ErrInvalidInput, "merchant is required")
	}
	if in.Amount <= 0 {
		return ledger.Invalid(ledger.ErrInvalidAmount, "amount must be positive")
	}
	if strings.TrimSpace(in.Currency) == "" {
		return ledger.Invalid(ledger.ErrInvalidInput, "currency is required")
	}
	if in.ExpiryDays < 0 {
		return ledger.Invalid(ledger.ErrInvalidInput, "expiry days must not be negative")
	}
	return nil
}

// PurchaseResult carries the pending payment and the fraud decision. The
// payment is nil when the decision blocked the purchase.
type PurchaseResult struct {
	Payment  *models.Payment
	Decision fraud.Decision
}

// Purchase runs the fraud gate, records the IP action, and stores a PENDING
// payment. A block returns the decision together with a *fraud.BlockedError.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (*PurchaseResult, error) {
	if errValidate := in.validate(); errValidate != nil {
		return nil, errValidate
	}
	var merchant models.Merchant
	if errFind := s.db(ctx).First(&merchant, in.MerchantID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ledger.NotFound("merchant", in.MerchantID)
		}
		return nil, fmt.Errorf("payments: load merchant: %w", errFind)
	}

	decision, errCheck := s.gate.Check(ctx, fraud.CheckInput{
		UserID:        in.UserID,
		Email:         in.Email,
		Phone:         in.Phone,
		IPAddress:     in.IPAddress,
		PaymentMethod: in.PaymentMethod,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Action:        fraud.ActionPurchase,
	})
	if errCheck != nil {
		return nil, errCheck
	}
	if errTrack := s.gate.Track(ctx, in.IPAddress, in.UserID, fraud.ActionPurchase); errTrack != nil {
		log.WithError(errTrack).Warn("payments: track purchase failed")
	}
	result := &PurchaseResult{Decision: decision}
	if errBlocked := decision.Err(); errBlocked != nil {
		log.WithFields(log.Fields{"provider_ref": in.ProviderRef, "reason": decision.Reason}).Info("purchase blocked")
		return result, errBlocked
	}

	now := s.engine.Store().Now()
	payment := &models.Payment{
		ProviderRef:              strings.TrimSpace(in.ProviderRef),
		MerchantID:               merchant.ID,
		UserID:                   in.UserID,
		Amount:                   in.Amount,
		Currency:                 strings.ToUpper(strings.TrimSpace(in.Currency)),
		Status:                   models.PaymentStatusPending,
		PaymentMethodFingerprint: fraud.Normalize(models.BlacklistTypePaymentMethod, in.PaymentMethod),
		Email:                    fraud.Normalize(models.BlacklistTypeEmail, in.Email),
		Phone:                    strings.TrimSpace(in.Phone),
		IPAddress:                fraud.Normalize(models.BlacklistTypeIP, in.IPAddress),
		FraudScore:               decision.RiskScore,
		RequiresManualReview:     decision.RequiresManualReview,
		ExpiryDays:               in.ExpiryDays,
		AllowPartialRedemption:   in.AllowPartialRedemption,
		RecipientEmail:           in.RecipientEmail,
		RecipientPhone:           in.RecipientPhone,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if errCreate := s.db(ctx).Create(payment).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			return nil, ledger.Invalid(ledger.ErrInvalidInput, "payment %s already exists", payment.ProviderRef)
		}
		return nil, fmt.Errorf("payments: create payment: %w", errCreate)
	}
	result.Payment = payment
	log.WithFields(log.Fields{
		"payment_id":   payment.ID,
		"provider_ref": payment.ProviderRef,
		"risk_score":   decision.RiskScore,
		"review":       decision.RequiresManualReview,
	}).Info("purchase accepted")
	return result, nil
}

// Get returns a payment by its gateway reference.
func (s *Service) Get(ctx context.Context, providerRef string) (*models.Payment, error) {
	var payment models.Payment
	if errFind := s.db(ctx).Where("provider_ref = ?", strings.TrimSpace(providerRef)).First(&payment).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ledger.NotFound("payment", providerRef)
		}
		return nil, fmt.Errorf("payments: load payment: %w", errFind)
	}
	return &payment, nil
}

func lockPayment(tx *gorm.DB, providerRef string) (*models.Payment, error) {
	var payment models.Payment
	if errFind := dbutil.ForUpdate(tx).Where("provider_ref = ?", strings.TrimSpace(providerRef)).First(&payment).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ledger.NotFound("payment", providerRef)
		}
		return nil, fmt.Errorf("payments: lock payment: %w", errFind)
	}
	return &payment, nil
}

// Completion is the outcome of a completed payment.
type Completion struct {
	Payment *models.Payment
	Card    *models.GiftCard
	// Issued is false when the payment had already produced its card.
	Issued bool
}

// Complete issues the card funded by a payment, appends its PURCHASE entry,
// links it to the payment, and credits the merchant with amount minus fee.
// Completing an already completed payment returns its existing card.
func (s *Service) Complete(ctx context.Context, providerRef string, amount, fee int64) (*Completion, error) {
	if fee < 0 {
		return nil, ledger.Invalid(ledger.ErrInvalidAmount, "fee must not be negative")
	}
	var (
		out      *Completion
		mutation *redemption.Mutation
	)
	errRun := s.engine.Atomically(ctx, func(tx *gorm.DB) error {
		out, mutation = nil, nil
		payment, errLock := lockPayment(tx, providerRef)
		if errLock != nil {
			return errLock
		}
		if payment.Status == models.PaymentStatusCompleted && payment.GiftCardID != nil {
			var card models.GiftCard
			if errCard := tx.First(&card, *payment.GiftCardID).Error; errCard != nil {
				return fmt.Errorf("payments: load issued card: %w", errCard)
			}
			out = &Completion{Payment: payment, Card: &card}
			return nil
		}
		if payment.Status != models.PaymentStatusPending {
			return ledger.Invalid(ledger.ErrInvalidState, "payment %s is %s", payment.ProviderRef, payment.Status)
		}
		if amount > 0 && amount != payment.Amount {
			return ledger.Invalid(ledger.ErrInvalidAmount, "captured amount %d does not match payment amount %d", amount, payment.Amount)
		}

		now := s.engine.Store().Now()
		var expiry *time.Time
		if payment.ExpiryDays > 0 {
			at := now.AddDate(0, 0, payment.ExpiryDays)
			expiry = &at
		}
		m, errIssue := s.engine.IssueTx(ctx, tx, redemption.IssueInput{
			Card: ledger.CreateCardInput{
				MerchantID:             payment.MerchantID,
				Value:                  payment.Amount,
				Currency:               payment.Currency,
				ExpiryDate:             expiry,
				AllowPartialRedemption: payment.AllowPartialRedemption,
				PurchaserUserID:        payment.UserID,
				RecipientEmail:         payment.RecipientEmail,
				RecipientPhone:         payment.RecipientPhone,
			},
			PaymentID:   payment.ID,
			ProviderRef: payment.ProviderRef,
		})
		if errIssue != nil {
			return errIssue
		}
		if errLink := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).Updates(map[string]any{
			"status":       models.PaymentStatusCompleted,
			"gift_card_id": m.Card.ID,
			"completed_at": now,
			"updated_at":   now,
		}).Error; errLink != nil {
			return fmt.Errorf("payments: link card: %w", errLink)
		}
		if errPayout := ledger.AdjustPayout(tx, payment.MerchantID, payment.Amount-fee); errPayout != nil {
			return errPayout
		}
		payment.Status = models.PaymentStatusCompleted
		payment.GiftCardID = &m.Card.ID
		payment.CompletedAt = &now
		out = &Completion{Payment: payment, Card: m.Card, Issued: true}
		mutation = m
		return nil
	})
	if errRun != nil {
		return nil, errRun
	}
	if !out.Issued {
		log.WithField("provider_ref", providerRef).Info("payment already completed")
		return out, nil
	}
	s.engine.Committed(ctx, mutation)
	log.WithFields(log.Fields{"payment_id": out.Payment.ID, "card_id": out.Card.ID}).Info("payment completed")
	return out, nil
}

// MarkFailed moves a PENDING payment to FAILED. Repeats are no-ops.
func (s *Service) MarkFailed(ctx context.Context, providerRef string) (*models.Payment, error) {
	var payment *models.Payment
	errRun := s.engine.Atomically(ctx, func(tx *gorm.DB) error {
		var errLock error
		payment, errLock = lockPayment(tx, providerRef)
		if errLock != nil {
			return errLock
		}
		switch payment.Status {
		case models.PaymentStatusFailed:
			return nil
		case models.PaymentStatusPending:
		default:
			return ledger.Invalid(ledger.ErrInvalidState, "payment %s is %s", payment.ProviderRef, payment.Status)
		}
		if errUpdate := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).
			Update("status", models.PaymentStatusFailed).Error; errUpdate != nil {
			return fmt.Errorf("payments: mark failed: %w", errUpdate)
		}
		payment.Status = models.PaymentStatusFailed
		return nil
	})
	if errRun != nil {
		return nil, errRun
	}
	return payment, nil
}

// RefundPayment reverses amount of a completed payment on its card and
// debits the merchant. A refund covering the whole payment marks it
// REFUNDED; refunds of an already REFUNDED payment are ignored.
func (s *Service) RefundPayment(ctx context.Context, providerRef string, amount int64, reason string) (*redemption.Mutation, error) {
	if amount <= 0 {
		return nil, ledger.Invalid(ledger.ErrInvalidAmount, "refund amount must be positive")
	}
	var (
		mutation *redemption.Mutation
		skipped  bool
	)
	errRun := s.engine.Atomically(ctx, func(tx *gorm.DB) error {
		mutation, skipped = nil, false
		payment, errLock := lockPayment(tx, providerRef)
		if errLock != nil {
			return errLock
		}
		if payment.Status == models.PaymentStatusRefunded {
			skipped = true
			return nil
		}
		if payment.Status != models.PaymentStatusCompleted || payment.GiftCardID == nil {
			return ledger.Invalid(ledger.ErrInvalidState, "payment %s has no issued card to refund", payment.ProviderRef)
		}
		if reason = strings.TrimSpace(reason); reason == "" {
			reason = "payment refunded"
		}
		m, errRefund := s.engine.RefundTx(ctx, tx, redemption.RefundInput{
			CardID:    *payment.GiftCardID,
			Amount:    -amount,
			Reason:    reason,
			PaymentID: &payment.ID,
			Cancel:    amount >= payment.Amount,
		})
		if errRefund != nil {
			return errRefund
		}
		if amount >= payment.Amount {
			if errUpdate := tx.Model(&models.Payment{}).Where("id = ?", payment.ID).
				Update("status", models.PaymentStatusRefunded).Error; errUpdate != nil {
				return fmt.Errorf("payments: mark refunded: %w", errUpdate)
			}
		}
		if errPayout := ledger.AdjustPayout(tx, payment.MerchantID, -amount); errPayout != nil {
			return errPayout
		}
		mutation = m
		return nil
	})
	if errRun != nil {
		return nil, errRun
	}
	if skipped {
		log.WithField("provider_ref", providerRef).Info("payment already refunded")
		return nil, nil
	}
	s.engine.Committed(ctx, mutation)
	return mutation, nil
}
