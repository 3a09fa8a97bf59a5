package redemption

import (
	"context"
	"strings"

	"github.com/giftvault/giftvault/internal/events"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/metrics"
	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RefundInput adjusts a card's balance by a signed delta.
type RefundInput struct {
	CardID    uint64
	Amount    int64
	Reason    string
	PaymentID *uint64
	// Cancel forces the card to CANCELLED regardless of the resulting balance.
	Cancel  bool
	ActorID string
	// Metadata replaces the default refund metadata on the ledger entry.
	Metadata *models.Metadata
}

// RestoreInput resets a card to its full face value.
type RestoreInput struct {
	CardID       uint64
	Reason       string
	ChargebackID uint64
	ExternalID   string
	ActorID      string
}

type balanceEvent struct {
	CardID        uint64                `json:"giftCardId"`
	Delta         int64                 `json:"delta"`
	BalanceBefore int64                 `json:"balanceBefore"`
	BalanceAfter  int64                 `json:"balanceAfter"`
	Status        models.GiftCardStatus `json:"status"`
	Reason        string                `json:"reason,omitempty"`
}

// Refund applies RefundTx in its own retried transaction.
func (e *Engine) Refund(ctx context.Context, in RefundInput) (*Mutation, error) {
	var m *Mutation
	errRun := e.Atomically(ctx, func(tx *gorm.DB) error {
		var errRefund error
		m, errRefund = e.RefundTx(ctx, tx, in)
		return errRefund
	})
	if errRun != nil {
		return nil, errRun
	}
	e.Committed(ctx, m)
	return m, nil
}

// RefundTx moves the balance by in.Amount clamped to [0, value] and appends a
// REFUND entry carrying the applied delta. The card becomes CANCELLED when
// Cancel is set or a negative delta exhausts it. A REDEEMED card that regains
// value becomes ACTIVE. CANCELLED cards are refused.
func (e *Engine) RefundTx(ctx context.Context, tx *gorm.DB, in RefundInput) (*Mutation, error) {
	if in.Amount == 0 && !in.Cancel {
		return nil, ledger.Invalid(ledger.ErrInvalidAmount, "refund amount must be non-zero")
	}
	card, errLock := e.store.LockCard(tx, ledger.CardRef{ID: in.CardID})
	if errLock != nil {
		return nil, errLock
	}
	if card.Status == models.GiftCardStatusCancelled {
		return nil, ledger.Invalid(ledger.ErrInvalidState, "gift card is cancelled")
	}

	before := card.Balance
	after := before + in.Amount
	if after < 0 {
		after = 0
	}
	if after > card.Value {
		after = card.Value
	}

	status := card.Status
	kind := "refund"
	switch {
	case in.Cancel || (after == 0 && in.Amount < 0):
		status = models.GiftCardStatusCancelled
		kind = "cancel"
	case card.Status == models.GiftCardStatusRedeemed && after > 0:
		status = models.GiftCardStatusActive
	}
	if errApply := e.store.ApplyBalance(tx, card, after, status); errApply != nil {
		return nil, errApply
	}

	meta := models.NewRefundMetadata(models.RefundMetadata{Reason: strings.TrimSpace(in.Reason), PaymentID: in.PaymentID})
	if in.Metadata != nil {
		meta = *in.Metadata
	}
	entry := &models.Transaction{
		GiftCardID:    card.ID,
		Type:          models.TransactionTypeRefund,
		Amount:        after - before,
		BalanceBefore: before,
		BalanceAfter:  after,
		ActorID:       actorOrNil(in.ActorID),
		Metadata:      meta,
	}
	if errAppend := e.store.AppendTransaction(tx, entry); errAppend != nil {
		return nil, errAppend
	}

	metrics.RefundsTotal.WithLabelValues(kind).Inc()
	log.WithFields(log.Fields{
		"card_id":        card.ID,
		"code":           ledger.MaskCode(card.Code),
		"balance_before": before,
		"balance_after":  after,
		"status":         status,
	}).Info("gift card refunded")
	return &Mutation{
		Card:        card,
		Transaction: entry,
		EventType:   events.TypeCardRefunded,
		eventData: balanceEvent{
			CardID: card.ID, Delta: after - before, BalanceBefore: before, BalanceAfter: after,
			Status: status, Reason: in.Reason,
		},
	}, nil
}

// Restore applies RestoreTx in its own retried transaction.
func (e *Engine) Restore(ctx context.Context, in RestoreInput) (*Mutation, error) {
	var m *Mutation
	errRun := e.Atomically(ctx, func(tx *gorm.DB) error {
		var errRestore error
		m, errRestore = e.RestoreTx(ctx, tx, in)
		return errRestore
	})
	if errRun != nil {
		return nil, errRun
	}
	e.Committed(ctx, m)
	return m, nil
}

// RestoreTx sets the card ACTIVE with balance equal to its face value and
// appends a REFUND entry from the current balance up to that value.
func (e *Engine) RestoreTx(ctx context.Context, tx *gorm.DB, in RestoreInput) (*Mutation, error) {
	card, errLock := e.store.LockCard(tx, ledger.CardRef{ID: in.CardID})
	if errLock != nil {
		return nil, errLock
	}
	before := card.Balance
	if errApply := e.store.ApplyBalance(tx, card, card.Value, models.GiftCardStatusActive); errApply != nil {
		return nil, errApply
	}
	entry := &models.Transaction{
		GiftCardID:    card.ID,
		Type:          models.TransactionTypeRefund,
		Amount:        card.Value - before,
		BalanceBefore: before,
		BalanceAfter:  card.Value,
		ActorID:       actorOrNil(in.ActorID),
		Metadata: models.NewChargebackMetadata(models.ChargebackMetadata{
			ChargebackID: in.ChargebackID,
			ExternalID:   in.ExternalID,
			Reason:       in.Reason,
			Phase:        models.ChargebackPhaseRestore,
		}),
	}
	if errAppend := e.store.AppendTransaction(tx, entry); errAppend != nil {
		return nil, errAppend
	}
	metrics.RefundsTotal.WithLabelValues("restore").Inc()
	log.WithFields(log.Fields{"card_id": card.ID, "code": ledger.MaskCode(card.Code), "balance_before": before}).Info("gift card restored")
	return &Mutation{
		Card:        card,
		Transaction: entry,
		EventType:   events.TypeCardRestored,
		eventData: balanceEvent{
			CardID: card.ID, Delta: card.Value - before, BalanceBefore: before, BalanceAfter: card.Value,
			Status: models.GiftCardStatusActive, Reason: in.Reason,
		},
	}, nil
}
