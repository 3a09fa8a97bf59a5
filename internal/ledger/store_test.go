package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/giftvault/giftvault/internal/db/dbtest"
	"github.com/giftvault/giftvault/internal/models"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	return dbtest.Open(t)
}

type recordingCache struct {
	mu          sync.Mutex
	byID        map[uint64]models.GiftCard
	byCode      map[string]models.GiftCard
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{byID: map[uint64]models.GiftCard{}, byCode: map[string]models.GiftCard{}}
}

func (c *recordingCache) GetByID(_ context.Context, id uint64) (*models.GiftCard, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	card, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &card, true
}

func (c *recordingCache) GetByCode(_ context.Context, code string) (*models.GiftCard, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	card, ok := c.byCode[code]
	if !ok {
		return nil, false
	}
	return &card, true
}

func (c *recordingCache) Set(_ context.Context, card *models.GiftCard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[card.ID] = *card
	c.byCode[card.Code] = *card
}

func (c *recordingCache) Invalidate(_ context.Context, id uint64, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
	delete(c.byCode, code)
	c.invalidated = append(c.invalidated, code)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestCreateIssuesActiveCardWithoutLedgerEntry(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn, nil)
	ctx := context.Background()

	card, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 10000, Currency: "usd", AllowPartialRedemption: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ValidCode(card.Code) {
		t.Fatalf("unexpected code format %q", card.Code)
	}
	if card.Balance != card.Value || card.Status != models.GiftCardStatusActive {
		t.Fatalf("expected active card with full balance, got %+v", card)
	}
	if card.Currency != "USD" {
		t.Fatalf("expected normalized currency, got %s", card.Currency)
	}

	entries, err := store.Transactions(ctx, card.ID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no ledger entries at creation, got %d", len(entries))
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	store := NewStore(newTestDB(t), nil)
	ctx := context.Background()

	if _, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 0, Currency: "USD"}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100}); !IsValidation(err) {
		t.Fatalf("expected validation error for missing currency, got %v", err)
	}
}

func TestCreateFailsWhenCodeAttemptsExhausted(t *testing.T) {
	conn := newTestDB(t)
	fixed := func() (string, error) { return "GIFT-AAAA-BBBB-CCCC", nil }
	store := NewStore(conn, nil, WithCodeGenerator(fixed, 3))
	ctx := context.Background()

	if _, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100, Currency: "USD"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100, Currency: "USD"}); !errors.Is(err, ErrCodeGenerationExhausted) {
		t.Fatalf("expected code generation exhausted, got %v", err)
	}
}

func TestGetExpiresCardLazilyAndPersists(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := newRecordingCache()
	store := NewStore(conn, cache, WithClock(fixedClock(now)))
	ctx := context.Background()

	expiry := now.Add(-time.Hour)
	card, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 500, Currency: "USD", ExpiryDate: &expiry})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetByCode(ctx, card.Code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.GiftCardStatusExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}

	var stored models.GiftCard
	if errFind := conn.First(&stored, card.ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if stored.Status != models.GiftCardStatusExpired {
		t.Fatalf("expected expiry persisted, got %s", stored.Status)
	}
	if len(cache.invalidated) == 0 {
		t.Fatalf("expected cache invalidation on expiry")
	}
	if _, ok := cache.GetByID(ctx, card.ID); ok {
		t.Fatalf("expected stale cache entry removed")
	}
}

func TestGetUnknownCardIsNotFound(t *testing.T) {
	store := NewStore(newTestDB(t), nil)

	if _, err := store.Get(context.Background(), 42); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetByCode(context.Background(), "GIFT-NOPE-NOPE-NOPE"); !IsNotFound(err) {
		t.Fatalf("expected not found by code, got %v", err)
	}
}

func TestExpireIfDueIsIdempotent(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(conn, nil, WithClock(fixedClock(now)))
	ctx := context.Background()

	expiry := now.Add(-24 * time.Hour)
	card, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 500, Currency: "USD", ExpiryDate: &expiry})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	changed, err := store.ExpireIfDue(ctx, card.ID)
	if err != nil || !changed {
		t.Fatalf("expected first expiry to change card, changed=%v err=%v", changed, err)
	}
	changed, err = store.ExpireIfDue(ctx, card.ID)
	if err != nil || changed {
		t.Fatalf("expected second expiry to be a no-op, changed=%v err=%v", changed, err)
	}
}

func TestDeleteGuards(t *testing.T) {
	conn := newTestDB(t)
	cache := newRecordingCache()
	store := NewStore(conn, cache)
	ctx := context.Background()

	fresh, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	redeemed, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if errUpdate := conn.Model(redeemed).Updates(map[string]any{"status": models.GiftCardStatusRedeemed, "balance": 0}).Error; errUpdate != nil {
		t.Fatalf("mark redeemed: %v", errUpdate)
	}
	withHistory, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if errAppend := store.AppendTransaction(conn, &models.Transaction{
		GiftCardID: withHistory.ID, Type: models.TransactionTypePurchase, Amount: 100, BalanceBefore: 100, BalanceAfter: 100,
	}); errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}

	if err := store.Delete(ctx, redeemed.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected redeemed card delete to fail, got %v", err)
	}
	if err := store.Delete(ctx, withHistory.ID); !errors.Is(err, ErrHasHistory) {
		t.Fatalf("expected card with history delete to fail, got %v", err)
	}
	if err := store.Delete(ctx, fresh.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, fresh.ID); !IsNotFound(err) {
		t.Fatalf("expected deleted card to be gone, got %v", err)
	}
	if err := store.Delete(ctx, fresh.ID); !IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestApplyBalanceDetectsStaleVersion(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn, nil)
	ctx := context.Background()

	card, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100, Currency: "USD", AllowPartialRedemption: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stale := *card

	if err := store.ApplyBalance(conn, card, 60, models.GiftCardStatusActive); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := store.ApplyBalance(conn, &stale, 50, models.GiftCardStatusActive); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	if err := store.ApplyBalance(conn, card, 101, models.GiftCardStatusActive); err == nil {
		t.Fatalf("expected balance above value to be rejected")
	}
}

func TestListAppliesFilter(t *testing.T) {
	conn := newTestDB(t)
	store := NewStore(conn, nil)
	ctx := context.Background()

	for _, merchant := range []uint64{1, 1, 2} {
		if _, err := store.Create(ctx, CreateCardInput{MerchantID: merchant, Value: 100, Currency: "USD"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	merchantID := uint64(1)
	cards, err := store.List(ctx, CardFilter{MerchantID: &merchantID, Statuses: []models.GiftCardStatus{models.GiftCardStatusActive}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}

	if _, err := store.List(ctx, CardFilter{Statuses: []models.GiftCardStatus{"BOGUS"}}); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	from := time.Now()
	to := from.Add(-time.Hour)
	if _, err := store.List(ctx, CardFilter{CreatedFrom: &from, CreatedTo: &to}); !IsValidation(err) {
		t.Fatalf("expected validation error for inverted range, got %v", err)
	}
}

func TestMaskCode(t *testing.T) {
	if got := MaskCode("GIFT-ABCD-EFGH-JKLM"); got != "GIFT-****-****-JKLM" {
		t.Fatalf("unexpected mask %s", got)
	}
}

func TestGetReloadsWhenCachedCardWasAlreadyMoved(t *testing.T) {
	conn := newTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := newRecordingCache()
	store := NewStore(conn, cache, WithClock(fixedClock(now)))
	ctx := context.Background()

	expiry := now.Add(-time.Hour)
	card, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 500, Currency: "USD", ExpiryDate: &expiry})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cache.Set(ctx, card)
	if errUpdate := conn.Model(&models.GiftCard{}).Where("id = ?", card.ID).
		Updates(map[string]any{"status": models.GiftCardStatusRedeemed, "balance": 0}).Error; errUpdate != nil {
		t.Fatalf("redeem behind cache: %v", errUpdate)
	}

	got, err := store.Get(ctx, card.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.GiftCardStatusRedeemed || got.Balance != 0 {
		t.Fatalf("expected stored row, got status=%s balance=%d", got.Status, got.Balance)
	}
	if _, ok := cache.GetByID(ctx, card.ID); ok {
		t.Fatalf("expected stale cache entry removed")
	}
}

func TestDeleteInvalidatesOnlyAfterCommit(t *testing.T) {
	conn := newTestDB(t)
	cache := newRecordingCache()
	store := NewStore(conn, cache)
	ctx := context.Background()

	kept, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if errAppend := store.AppendTransaction(conn, &models.Transaction{
		GiftCardID: kept.ID, Type: models.TransactionTypePurchase, Amount: 100, BalanceBefore: 100, BalanceAfter: 100,
	}); errAppend != nil {
		t.Fatalf("append: %v", errAppend)
	}
	cache.Set(ctx, kept)
	if err := store.Delete(ctx, kept.ID); !errors.Is(err, ErrHasHistory) {
		t.Fatalf("expected history guard, got %v", err)
	}
	if len(cache.invalidated) != 0 {
		t.Fatalf("rolled back delete invalidated cache: %v", cache.invalidated)
	}

	gone, err := store.Create(ctx, CreateCardInput{MerchantID: 1, Value: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cache.Set(ctx, gone)
	if err := store.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := cache.GetByCode(ctx, gone.Code); ok {
		t.Fatalf("expected deleted card evicted from cache")
	}
}
