package redemption

import (
	"context"

	"github.com/giftvault/giftvault/internal/events"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// IssueInput creates a funded card.
type IssueInput struct {
	Card        ledger.CreateCardInput
	PaymentID   uint64
	ProviderRef string
	ActorID     string
}

type issuedEvent struct {
	CardID     uint64 `json:"giftCardId"`
	MerchantID uint64 `json:"merchantId"`
	PaymentID  uint64 `json:"paymentId"`
	Value      int64  `json:"value"`
	Currency   string `json:"currency"`
}

// IssueTx creates the card and its PURCHASE entry inside tx. The entry leaves
// the balance at face value, so replay starts from Value.
func (e *Engine) IssueTx(ctx context.Context, tx *gorm.DB, in IssueInput) (*Mutation, error) {
	if in.PaymentID != 0 && in.Card.PaymentID == nil {
		paymentID := in.PaymentID
		in.Card.PaymentID = &paymentID
	}
	card, errCreate := e.store.CreateTx(tx, in.Card)
	if errCreate != nil {
		return nil, errCreate
	}
	entry := &models.Transaction{
		GiftCardID:    card.ID,
		Type:          models.TransactionTypePurchase,
		Amount:        card.Value,
		BalanceBefore: card.Value,
		BalanceAfter:  card.Value,
		ActorID:       actorOrNil(in.ActorID),
		Metadata:      models.NewPurchaseMetadata(models.PurchaseMetadata{PaymentID: in.PaymentID, ProviderRef: in.ProviderRef}),
	}
	if errAppend := e.store.AppendTransaction(tx, entry); errAppend != nil {
		return nil, errAppend
	}
	log.WithFields(log.Fields{"card_id": card.ID, "code": ledger.MaskCode(card.Code), "value": card.Value}).Info("gift card issued")
	return &Mutation{
		Card:        card,
		Transaction: entry,
		EventType:   events.TypeCardIssued,
		eventData: issuedEvent{
			CardID: card.ID, MerchantID: card.MerchantID, PaymentID: in.PaymentID, Value: card.Value, Currency: card.Currency,
		},
	}, nil
}

// Issue applies IssueTx in its own transaction.
func (e *Engine) Issue(ctx context.Context, in IssueInput) (*Mutation, error) {
	var m *Mutation
	errRun := e.Atomically(ctx, func(tx *gorm.DB) error {
		var errIssue error
		m, errIssue = e.IssueTx(ctx, tx, in)
		return errIssue
	})
	if errRun != nil {
		return nil, errRun
	}
	e.Committed(ctx, m)
	return m, nil
}
