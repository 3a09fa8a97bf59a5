package redemption

import (
	"context"
	"errors"
	"strings"

	"github.com/giftvault/giftvault/internal/events"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/metrics"
	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RedeemInput identifies the card and the value to take from it.
type RedeemInput struct {
	Ref        ledger.CardRef
	Amount     int64
	ActorID    string
	MerchantID uint64
	Method     models.RedemptionMethod
}

// RedeemResult reports the committed redemption.
type RedeemResult struct {
	Card          *models.GiftCard
	Balance       int64
	FullyRedeemed bool
	Redemption    *models.Redemption
	Transaction   *models.Transaction
}

type redeemedEvent struct {
	CardID       uint64                  `json:"giftCardId"`
	RedemptionID uint64                  `json:"redemptionId"`
	MerchantID   uint64                  `json:"merchantId"`
	Amount       int64                   `json:"amount"`
	BalanceAfter int64                   `json:"balanceAfter"`
	Currency     string                  `json:"currency"`
	Method       models.RedemptionMethod `json:"method"`
}

// Redeem takes Amount from the card. Checks run against the locked row in
// this order: status, expiry, amount bounds, partial redemption. An expired
// card is moved to EXPIRED and that change is committed before the call
// fails with ErrInvalidState.
func (e *Engine) Redeem(ctx context.Context, in RedeemInput) (*RedeemResult, error) {
	if in.Method == "" {
		in.Method = models.RedemptionMethodAPI
	}
	if !in.Method.Valid() {
		return nil, ledger.Invalid(ledger.ErrInvalidInput, "unknown redemption method %q", in.Method)
	}

	var (
		result  *RedeemResult
		expired *models.GiftCard
	)
	errRun := e.Atomically(ctx, func(tx *gorm.DB) error {
		result, expired = nil, nil
		card, errLock := e.store.LockCard(tx, in.Ref)
		if errLock != nil {
			return errLock
		}
		if card.Status != models.GiftCardStatusActive {
			return ledger.Invalid(ledger.ErrInvalidState, "gift card is %s", strings.ToLower(string(card.Status)))
		}
		if card.IsExpiredAt(e.store.Now()) {
			if _, errExpire := e.store.ExpireTx(ctx, tx, card); errExpire != nil {
				return errExpire
			}
			expired = card
			return nil
		}
		if in.Amount <= 0 {
			return ledger.Invalid(ledger.ErrInvalidAmount, "redemption amount must be positive")
		}
		if in.Amount > card.Balance {
			return ledger.Invalid(ledger.ErrInvalidAmount, "redemption amount %d exceeds balance %d", in.Amount, card.Balance)
		}
		if in.Amount < card.Balance && !card.AllowPartialRedemption {
			return ledger.Invalid(ledger.ErrPartialNotAllowed, "gift card must be redeemed in full (%d)", card.Balance)
		}

		merchantID := in.MerchantID
		if merchantID == 0 {
			merchantID = card.MerchantID
		}
		before := card.Balance
		after := before - in.Amount
		status := models.GiftCardStatusActive
		if after <= 0 {
			after = 0
			status = models.GiftCardStatusRedeemed
		}
		if errApply := e.store.ApplyBalance(tx, card, after, status); errApply != nil {
			return errApply
		}

		actor := actorOrNil(in.ActorID)
		entry := &models.Transaction{
			GiftCardID:    card.ID,
			Type:          models.TransactionTypeRedemption,
			Amount:        in.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			ActorID:       actor,
			Metadata: models.NewRedemptionMetadata(models.RedemptionMetadata{
				Method:     in.Method,
				MerchantID: merchantID,
			}),
		}
		if errAppend := e.store.AppendTransaction(tx, entry); errAppend != nil {
			return errAppend
		}
		record := &models.Redemption{
			GiftCardID:    card.ID,
			TransactionID: entry.ID,
			MerchantID:    merchantID,
			Amount:        in.Amount,
			Method:        in.Method,
			BalanceAfter:  after,
			ActorID:       actor,
			CreatedAt:     entry.CreatedAt,
		}
		if errCreate := tx.Create(record).Error; errCreate != nil {
			return errCreate
		}
		result = &RedeemResult{
			Card:          card,
			Balance:       after,
			FullyRedeemed: status == models.GiftCardStatusRedeemed,
			Redemption:    record,
			Transaction:   entry,
		}
		return nil
	})

	switch {
	case errRun != nil:
		observeRedeem(errRun)
		return nil, errRun
	case expired != nil:
		e.store.Invalidate(ctx, expired)
		observeRedeem(ledger.ErrInvalidState)
		return nil, ledger.Invalid(ledger.ErrInvalidState, "gift card has expired")
	}

	e.Committed(ctx, &Mutation{
		Card:        result.Card,
		Transaction: result.Transaction,
		EventType:   events.TypeCardRedeemed,
		eventData: redeemedEvent{
			CardID:       result.Card.ID,
			RedemptionID: result.Redemption.ID,
			MerchantID:   result.Redemption.MerchantID,
			Amount:       in.Amount,
			BalanceAfter: result.Balance,
			Currency:     result.Card.Currency,
			Method:       in.Method,
		},
	})
	metrics.RedemptionsTotal.WithLabelValues("ok").Inc()
	metrics.RedeemedAmountTotal.WithLabelValues(result.Card.Currency).Add(float64(in.Amount))
	log.WithFields(log.Fields{
		"card_id":       result.Card.ID,
		"code":          ledger.MaskCode(result.Card.Code),
		"amount":        in.Amount,
		"balance_after": result.Balance,
		"method":        in.Method,
	}).Info("gift card redeemed")
	return result, nil
}

func observeRedeem(err error) {
	switch {
	case ledger.IsValidation(err), ledger.IsNotFound(err):
		metrics.RedemptionsTotal.WithLabelValues("rejected").Inc()
	case errors.Is(err, ledger.ErrConcurrentModification):
		metrics.RedemptionsTotal.WithLabelValues("conflict").Inc()
	default:
		metrics.RedemptionsTotal.WithLabelValues("error").Inc()
	}
}
