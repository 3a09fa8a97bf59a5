package chargeback

import (
	"context"
	"errors"
	"testing"

	"github.com/giftvault/giftvault/internal/db/dbtest"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/notify"
	"github.com/giftvault/giftvault/internal/redemption"
	"gorm.io/gorm"
)

type countingChannel struct {
	emails int
}

func (c *countingChannel) SendEmail(context.Context, string, string, string) error {
	c.emails++
	return nil
}

func (c *countingChannel) SendSMS(context.Context, string, string) error { return nil }

type fixture struct {
	conn     *gorm.DB
	engine   *redemption.Engine
	handler  *Handler
	channel  *countingChannel
	merchant models.Merchant
	payment  models.Payment
	card     *models.GiftCard
}

func newFixture(t *testing.T, payout int64) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	engine := redemption.NewEngine(ledger.NewStore(conn, nil), redemption.WithRetry(3, 0))
	ch := &countingChannel{}
	f := &fixture{conn: conn, engine: engine, channel: ch, handler: NewHandler(engine, notify.New(ch), nil)}

	f.merchant = models.Merchant{Name: "Shop", Email: "shop@example.com", PayoutBalance: payout}
	if errCreate := conn.Create(&f.merchant).Error; errCreate != nil {
		t.Fatalf("merchant: %v", errCreate)
	}
	f.payment = models.Payment{
		ProviderRef: "pi_100", MerchantID: f.merchant.ID, Amount: 10000, Currency: "USD",
		Status: models.PaymentStatusCompleted, Email: "buyer@example.com",
	}
	if errCreate := conn.Create(&f.payment).Error; errCreate != nil {
		t.Fatalf("payment: %v", errCreate)
	}
	m, err := engine.Issue(context.Background(), redemption.IssueInput{
		Card:      ledger.CreateCardInput{MerchantID: f.merchant.ID, Value: 10000, Currency: "USD", AllowPartialRedemption: true},
		PaymentID: f.payment.ID,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.card = m.Card
	if errLink := conn.Model(&f.payment).Update("gift_card_id", f.card.ID).Error; errLink != nil {
		t.Fatalf("link payment: %v", errLink)
	}
	return f
}

func (f *fixture) reloadCard(t *testing.T) models.GiftCard {
	t.Helper()
	var card models.GiftCard
	if errFind := f.conn.First(&card, f.card.ID).Error; errFind != nil {
		t.Fatalf("reload card: %v", errFind)
	}
	return card
}

func (f *fixture) payout(t *testing.T) int64 {
	t.Helper()
	var merchant models.Merchant
	if errFind := f.conn.First(&merchant, f.merchant.ID).Error; errFind != nil {
		t.Fatalf("reload merchant: %v", errFind)
	}
	return merchant.PayoutBalance
}

func TestChargebackCancelsPartiallyRedeemedCard(t *testing.T) {
	f := newFixture(t, 20000)
	ctx := context.Background()

	if _, err := f.engine.Redeem(ctx, redemption.RedeemInput{Ref: ledger.CardRef{ID: f.card.ID}, Amount: 4000}); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	cb, err := f.handler.HandleDispute(ctx, DisputeInput{PaymentRef: "pi_100", ChargebackID: "dp_1", Amount: 10000, Fee: 1500, Reason: "fraudulent"})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if cb.Status != models.ChargebackStatusPending || cb.GiftCardID == nil || *cb.GiftCardID != f.card.ID {
		t.Fatalf("unexpected chargeback %+v", cb)
	}

	card := f.reloadCard(t)
	if card.Balance != 0 || card.Status != models.GiftCardStatusCancelled {
		t.Fatalf("expected cancelled card with zero balance, got %+v", card)
	}
	entries, err := f.engine.Store().Transactions(ctx, f.card.ID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var refunds []models.Transaction
	for _, e := range entries {
		if e.Type == models.TransactionTypeRefund {
			refunds = append(refunds, e)
		}
	}
	if len(refunds) != 1 || refunds[0].BalanceBefore != 6000 || refunds[0].BalanceAfter != 0 {
		t.Fatalf("expected one REFUND 6000->0, got %+v", refunds)
	}
	if refunds[0].Metadata.Chargeback == nil || refunds[0].Metadata.Chargeback.ExternalID != "dp_1" {
		t.Fatalf("expected chargeback metadata on refund, got %+v", refunds[0].Metadata)
	}
	if _, errReplay := ledger.Replay(&card, entries); errReplay != nil {
		t.Fatalf("replay: %v", errReplay)
	}

	var payment models.Payment
	f.conn.First(&payment, f.payment.ID)
	if payment.Status != models.PaymentStatusRefunded {
		t.Fatalf("expected payment refunded, got %s", payment.Status)
	}
	if got := f.payout(t); got != 20000-11500 {
		t.Fatalf("expected payout 8500, got %d", got)
	}
	if f.channel.emails != 2 {
		t.Fatalf("expected merchant and customer notified, got %d emails", f.channel.emails)
	}
}

func TestDisputeIsIdempotentOnExternalID(t *testing.T) {
	f := newFixture(t, 5000)
	ctx := context.Background()
	in := DisputeInput{PaymentRef: "pi_100", ChargebackID: "dp_dup", Amount: 10000, Fee: 1500}

	first, err := f.handler.HandleDispute(ctx, in)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.handler.HandleDispute(ctx, in)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same chargeback, got %d and %d", first.ID, second.ID)
	}
	if got := f.payout(t); got != 0 {
		t.Fatalf("expected payout floored at 0 once, got %d", got)
	}
	var count int64
	f.conn.Model(&models.Chargeback{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one chargeback row, got %d", count)
	}
}

func TestDisputeUnknownPayment(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.handler.HandleDispute(context.Background(), DisputeInput{PaymentRef: "pi_missing", ChargebackID: "dp_x", Amount: 1}); !ledger.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.handler.HandleDispute(context.Background(), DisputeInput{PaymentRef: "pi_100"}); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWonRestoresCardAndCreditsMerchant(t *testing.T) {
	f := newFixture(t, 20000)
	ctx := context.Background()
	if _, err := f.engine.Redeem(ctx, redemption.RedeemInput{Ref: ledger.CardRef{ID: f.card.ID}, Amount: 4000}); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	cb, err := f.handler.HandleDispute(ctx, DisputeInput{PaymentRef: "pi_100", ChargebackID: "dp_won", Amount: 10000, Fee: 1500})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}

	evidence := "signed receipt"
	resolved, err := f.handler.UpdateStatus(ctx, cb.ID, models.ChargebackStatusWon, &evidence)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != models.ChargebackStatusWon || resolved.ResolvedAt == nil || resolved.Evidence == nil {
		t.Fatalf("unexpected resolution %+v", resolved)
	}
	card := f.reloadCard(t)
	if card.Status != models.GiftCardStatusActive || card.Balance != card.Value {
		t.Fatalf("expected card restored to full value, got %+v", card)
	}
	if got := f.payout(t); got != 20000 {
		t.Fatalf("expected payout restored to 20000, got %d", got)
	}
	entries, _ := f.engine.Store().Transactions(ctx, f.card.ID)
	if _, errReplay := ledger.Replay(&card, entries); errReplay != nil {
		t.Fatalf("replay: %v", errReplay)
	}

	if _, err := f.handler.UpdateStatus(ctx, cb.ID, models.ChargebackStatusLost, nil); !errors.Is(err, ErrChargebackResolved) {
		t.Fatalf("expected resolved error, got %v", err)
	}
}

func TestLostLeavesCardCancelled(t *testing.T) {
	f := newFixture(t, 20000)
	ctx := context.Background()
	cb, err := f.handler.HandleDispute(ctx, DisputeInput{PaymentRef: "pi_100", ChargebackID: "dp_lost", Amount: 10000})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := f.handler.UpdateStatusByExternalID(ctx, "dp_lost", models.ChargebackStatusLost, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	card := f.reloadCard(t)
	if card.Status != models.GiftCardStatusCancelled || card.Balance != 0 {
		t.Fatalf("expected card to stay cancelled, got %+v", card)
	}
	if _, err := f.handler.UpdateStatus(ctx, cb.ID, models.ChargebackStatusPending, nil); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error for non-terminal target, got %v", err)
	}
	list, err := f.handler.ListByCard(ctx, f.card.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one chargeback for card, got %d (%v)", len(list), err)
	}
	if _, err := f.handler.Get(ctx, 9999); !ledger.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
