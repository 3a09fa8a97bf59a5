package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/giftvault/giftvault/internal/db/dbtest"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/giftvault/giftvault/internal/settings"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func newGate(t *testing.T) (*Gate, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	return NewGate(conn, DefaultLimits(), WithGateClock(func() time.Time { return testNow })), conn
}

func seedCards(t *testing.T, conn *gorm.DB, userID uint64, n int, value int64, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		card := models.GiftCard{
			Code:            fmt.Sprintf("SEED-%d-%d-%d", userID, at.Unix(), i),
			MerchantID:      1,
			PurchaserUserID: &userID,
			Value:           value,
			Balance:         value,
			Currency:        "USD",
			Status:          models.GiftCardStatusActive,
			CreatedAt:       at,
			UpdatedAt:       at,
		}
		if errCreate := conn.Create(&card).Error; errCreate != nil {
			t.Fatalf("seed card: %v", errCreate)
		}
	}
}

func uid(v uint64) *uint64 { return &v }

func TestVelocityBlocksEleventhCardOfTheDay(t *testing.T) {
	gate, conn := newGate(t)
	ctx := context.Background()
	seedCards(t, conn, 7, 9, 1000, testNow.Add(-2*time.Hour))

	d, err := gate.Check(ctx, CheckInput{UserID: uid(7), Amount: 1000, Currency: "USD"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected 10th card allowed, got %+v", d)
	}

	seedCards(t, conn, 7, 1, 1000, testNow.Add(-time.Hour))
	d, err = gate.Check(ctx, CheckInput{UserID: uid(7), Amount: 1000, Currency: "USD"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed || d.Outcome != OutcomeBlock || d.RiskScore != 100 {
		t.Fatalf("expected 11th card blocked, got %+v", d)
	}
	if !errors.Is(d.Err(), ErrBlocked) || !ledger.IsValidation(d.Err()) {
		t.Fatalf("expected blocked validation error, got %v", d.Err())
	}
}

func TestVelocityIgnoresYesterday(t *testing.T) {
	gate, conn := newGate(t)
	seedCards(t, conn, 7, 10, 1000, testNow.Add(-24*time.Hour))

	d, err := gate.Check(context.Background(), CheckInput{UserID: uid(7), Amount: 1000, Currency: "USD"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected cards from yesterday not to count, got %+v", d)
	}
}

func TestDailyValueAndCardValueCaps(t *testing.T) {
	gate, conn := newGate(t)
	ctx := context.Background()

	d, _ := gate.Check(ctx, CheckInput{UserID: uid(3), Amount: 200_001, Currency: "USD"})
	if d.Outcome != OutcomeBlock {
		t.Fatalf("expected per-card cap block, got %+v", d)
	}
	d, _ = gate.Check(ctx, CheckInput{UserID: uid(3), Amount: 180_000, Currency: "GBP"})
	if d.Outcome != OutcomeBlock {
		t.Fatalf("expected converted GBP amount over per-card cap, got %+v", d)
	}

	seedCards(t, conn, 3, 3, 150_000, testNow.Add(-5*time.Hour))
	d, _ = gate.Check(ctx, CheckInput{UserID: uid(3), Amount: 60_000, Currency: "USD"})
	if d.Outcome != OutcomeBlock {
		t.Fatalf("expected daily value block, got %+v", d)
	}
}

func TestSettingsOverrideLimits(t *testing.T) {
	gate, conn := newGate(t)
	settings.Store(testNow, map[string]json.RawMessage{settings.FraudMaxCardsPerDayKey: json.RawMessage(`2`)})
	t.Cleanup(func() { settings.Store(time.Time{}, nil) })
	seedCards(t, conn, 4, 2, 1000, testNow.Add(-time.Hour))

	d, _ := gate.Check(context.Background(), CheckInput{UserID: uid(4), Amount: 1000, Currency: "USD"})
	if d.Outcome != OutcomeBlock {
		t.Fatalf("expected runtime limit of 2 to block, got %+v", d)
	}
}

func TestIPActionLimit(t *testing.T) {
	gate, _ := newGate(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := gate.Track(ctx, "203.0.113.9", nil, ActionPurchase); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	d, _ := gate.Check(ctx, CheckInput{IPAddress: "203.0.113.9", Amount: 100, Currency: "USD"})
	if d.Outcome != OutcomeBlock {
		t.Fatalf("expected ip limit block, got %+v", d)
	}
	d, _ = gate.Check(ctx, CheckInput{IPAddress: "203.0.113.10", Amount: 100, Currency: "USD"})
	if !d.Allowed {
		t.Fatalf("expected other ip allowed, got %+v", d)
	}
}

func TestBlacklistAutoBlockAndExpiry(t *testing.T) {
	gate, _ := newGate(t)
	ctx := context.Background()

	if _, err := gate.AddToBlacklist(ctx, BlacklistEntry{Type: models.BlacklistTypeEmail, Value: " Bad@Example.com ", AutoBlock: true, Severity: models.BlacklistSeverityCritical}); err != nil {
		t.Fatalf("add: %v", err)
	}
	d, _ := gate.Check(ctx, CheckInput{Email: "bad@example.COM", Amount: 100, Currency: "USD"})
	if d.Outcome != OutcomeBlock || d.RiskScore != 100 {
		t.Fatalf("expected blacklist block, got %+v", d)
	}

	past := testNow.Add(-time.Hour)
	if _, err := gate.AddToBlacklist(ctx, BlacklistEntry{Type: models.BlacklistTypeEmail, Value: "bad@example.com", AutoBlock: true, ExpiresAt: &past}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if _, ok, _ := gate.IsBlacklisted(ctx, models.BlacklistTypeEmail, "bad@example.com"); ok {
		t.Fatalf("expected expired entry inert")
	}
	d, _ = gate.Check(ctx, CheckInput{Email: "bad@example.com", Amount: 100, Currency: "USD"})
	if !d.Allowed {
		t.Fatalf("expected expired entry not to block, got %+v", d)
	}

	if _, err := gate.AddToBlacklist(ctx, BlacklistEntry{Type: models.BlacklistTypePhone, Value: "+1 (555) 010-9999", Severity: models.BlacklistSeverityMedium}); err != nil {
		t.Fatalf("add phone: %v", err)
	}
	d, _ = gate.Check(ctx, CheckInput{Phone: "15550109999", Amount: 100, Currency: "USD"})
	if !d.Allowed || !d.RequiresManualReview {
		t.Fatalf("expected watch-only entry to flag for review, got %+v", d)
	}
	if err := gate.RemoveFromBlacklist(ctx, models.BlacklistTypePhone, "1-555-010-9999"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := gate.IsBlacklisted(ctx, models.BlacklistTypePhone, "15550109999"); ok {
		t.Fatalf("expected entry removed")
	}
}

func TestHighValueFlagsReview(t *testing.T) {
	gate, _ := newGate(t)
	d, err := gate.Check(context.Background(), CheckInput{UserID: uid(8), Amount: 150_000, Currency: "USD"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed || !d.RequiresManualReview || d.RiskScore != 20 || d.Outcome != OutcomeReview {
		t.Fatalf("expected high value review, got %+v", d)
	}
	if d.Err() != nil {
		t.Fatalf("soft flags must not produce an error")
	}
}

func TestHighRiskScoreBlocksAndAutoBlacklists(t *testing.T) {
	gate, conn := newGate(t)
	ctx := context.Background()
	seedCards(t, conn, 9, 2, 120_000, testNow.Add(-20*time.Minute))

	d, err := gate.Check(ctx, CheckInput{
		UserID:    uid(9),
		Email:     "someone@mailinator.com",
		Phone:     "12",
		IPAddress: "198.51.100.4",
		Amount:    120_000,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed || d.Outcome != OutcomeBlock || d.RiskScore != 95 {
		t.Fatalf("expected score block at 95, got %+v", d)
	}
	if _, ok, _ := gate.IsBlacklisted(ctx, models.BlacklistTypeEmail, "someone@mailinator.com"); !ok {
		t.Fatalf("expected email auto-blacklisted")
	}
	entry, ok, _ := gate.IsBlacklisted(ctx, models.BlacklistTypeIP, "198.51.100.4")
	if !ok || !entry.AutoBlock || entry.Severity != models.BlacklistSeverityHigh {
		t.Fatalf("expected ip auto-blacklisted with HIGH severity, got %+v", entry)
	}
}

func TestDuplicateInstrumentFlagged(t *testing.T) {
	gate, conn := newGate(t)
	for i := uint64(1); i <= 3; i++ {
		p := models.Payment{
			ProviderRef:              fmt.Sprintf("pi_%d", i),
			MerchantID:               1,
			UserID:                   uid(100 + i),
			Amount:                   1000,
			Currency:                 "USD",
			Status:                   models.PaymentStatusCompleted,
			PaymentMethodFingerprint: "fp_shared",
			CreatedAt:                testNow.Add(-time.Hour),
		}
		if errCreate := conn.Create(&p).Error; errCreate != nil {
			t.Fatalf("seed payment: %v", errCreate)
		}
	}
	d, _ := gate.Check(context.Background(), CheckInput{UserID: uid(200), PaymentMethod: "FP_SHARED", Amount: 1000, Currency: "USD"})
	if !d.Allowed || !d.RequiresManualReview || d.RiskScore != 40 {
		t.Fatalf("expected shared instrument review, got %+v", d)
	}
	d, _ = gate.Check(context.Background(), CheckInput{UserID: uid(101), PaymentMethod: "fp_shared", Amount: 1000, Currency: "USD"})
	if d.RequiresManualReview {
		t.Fatalf("expected existing user on instrument not flagged, got %+v", d)
	}
}

func TestNormalizeAndHelpers(t *testing.T) {
	if got := Normalize(models.BlacklistTypeIP, " ::FFFF:10.0.0.1 "); got != "10.0.0.1" {
		t.Fatalf("unexpected ip normalization %q", got)
	}
	if !ValidPhone("+44 20 7946 0958") || ValidPhone("555") {
		t.Fatalf("phone validation mismatch")
	}
	if got := ToBase(1000, "eur"); got != 1080 {
		t.Fatalf("unexpected conversion %d", got)
	}
	if got := ToBase(1000, "XYZ"); got != 1000 {
		t.Fatalf("unknown currency should convert 1:1, got %d", got)
	}
}

func TestIPActionLimitSkipsRedemptions(t *testing.T) {
	gate, _ := newGate(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if err := gate.Track(ctx, "203.0.113.9", nil, ActionRedeem); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	d, err := gate.Check(ctx, CheckInput{IPAddress: "203.0.113.9", Amount: 100, Currency: "USD", Action: ActionRedeem})
	if err != nil || !d.Allowed || d.RequiresManualReview {
		t.Fatalf("expected terminal redemption allowed, got %+v err=%v", d, err)
	}
	d, _ = gate.Check(ctx, CheckInput{IPAddress: "203.0.113.9", Amount: 150_000, Currency: "USD", Action: ActionRedeem})
	if !d.Allowed || !d.RequiresManualReview {
		t.Fatalf("expected high-value redemption reviewed, got %+v", d)
	}
}

func TestPendingPurchasesCountTowardDailyCap(t *testing.T) {
	gate, conn := newGate(t)
	for i := 0; i < 10; i++ {
		p := models.Payment{
			ProviderRef: fmt.Sprintf("pi_open_%d", i),
			MerchantID:  1,
			UserID:      uid(77),
			Amount:      1000,
			Currency:    "USD",
			Status:      models.PaymentStatusPending,
			CreatedAt:   testNow.Add(-time.Minute),
		}
		if errCreate := conn.Create(&p).Error; errCreate != nil {
			t.Fatalf("seed payment: %v", errCreate)
		}
	}
	d, err := gate.Check(context.Background(), CheckInput{UserID: uid(77), Amount: 1000, Currency: "USD"})
	if err != nil || d.Outcome != OutcomeBlock {
		t.Fatalf("expected open checkouts to hit the cap, got %+v err=%v", d, err)
	}
	if errUpdate := conn.Model(&models.Payment{}).Where("provider_ref = ?", "pi_open_0").
		Update("status", models.PaymentStatusFailed).Error; errUpdate != nil {
		t.Fatalf("fail payment: %v", errUpdate)
	}
	d, _ = gate.Check(context.Background(), CheckInput{UserID: uid(77), Amount: 1000, Currency: "USD"})
	if !d.Allowed {
		t.Fatalf("expected failed checkout to free a slot, got %+v", d)
	}
}
