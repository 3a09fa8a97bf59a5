// Package ledger owns gift card rows and their append-only transaction log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dbutil "github.com/giftvault/giftvault/internal/db"
	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultCodeAttempts = 10

// Store is the durable home of gift cards and ledger entries.
type Store struct {
	db           *gorm.DB
	cache        Cache
	now          func() time.Time
	newCode      func() (string, error)
	codeAttempts int
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodeGenerator overrides code generation.
func WithCodeGenerator(gen func() (string, error), attempts int) Option {
	return func(s *Store) {
		if gen != nil {
			s.newCode = gen
		}
		if attempts > 0 {
			s.codeAttempts = attempts
		}
	}
}

// NewStore wires a store with an optional cache.
func NewStore(db *gorm.DB, cache Cache, opts ...Option) *Store {
	if cache == nil {
		cache = NoopCache{}
	}
	s := &Store{
		db:           db,
		cache:        cache,
		now:          func() time.Time { return time.Now().UTC() },
		newCode:      GenerateCode,
		codeAttempts: defaultCodeAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the handle for callers composing multi-row transactions.
func (s *Store) DB() *gorm.DB { return s.db }

// Now returns the store clock.
func (s *Store) Now() time.Time { return s.now() }

// CreateCardInput describes a card to issue.
type CreateCardInput struct {
	MerchantID             uint64
	Value                  int64
	Currency               string
	ExpiryDate             *time.Time
	AllowPartialRedemption bool
	PurchaserUserID        *uint64
	PaymentID              *uint64
	RecipientEmail         *string
	RecipientPhone         *string
}

func (in CreateCardInput) validate() error {
	if in.MerchantID == 0 {
		return Invalid(ErrInvalidInput, "merchant is required")
	}
	if in.Value <= 0 {
		return Invalid(ErrInvalidAmount, "card value must be positive")
	}
	if strings.TrimSpace(in.Currency) == "" {
		return Invalid(ErrInvalidInput, "currency is required")
	}
	return nil
}

// Create issues a new ACTIVE card with balance equal to value. No ledger entry
// is written; value enters the ledger through the PURCHASE entry.
func (s *Store) Create(ctx context.Context, in CreateCardInput) (*models.GiftCard, error) {
	return s.CreateTx(s.db.WithContext(ctx), in)
}

// CreateTx is Create on an existing transaction handle.
func (s *Store) CreateTx(tx *gorm.DB, in CreateCardInput) (*models.GiftCard, error) {
	if errValidate := in.validate(); errValidate != nil {
		return nil, errValidate
	}

	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code, errCode := s.newCode()
		if errCode != nil {
			return nil, fmt.Errorf("ledger: generate code: %w", errCode)
		}
		code = NormalizeCode(code)

		var taken int64
		if errCount := tx.Model(&models.GiftCard{}).Where("code = ?", code).Count(&taken).Error; errCount != nil {
			return nil, fmt.Errorf("ledger: check code: %w", errCount)
		}
		if taken > 0 {
			continue
		}

		now := s.now()
		card := &models.GiftCard{
			Code:                   code,
			MerchantID:             in.MerchantID,
			PurchaserUserID:        in.PurchaserUserID,
			PaymentID:              in.PaymentID,
			Value:                  in.Value,
			Balance:                in.Value,
			Currency:               strings.ToUpper(strings.TrimSpace(in.Currency)),
			Status:                 models.GiftCardStatusActive,
			ExpiryDate:             in.ExpiryDate,
			AllowPartialRedemption: in.AllowPartialRedemption,
			RecipientEmail:         in.RecipientEmail,
			RecipientPhone:         in.RecipientPhone,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if errCreate := tx.Create(card).Error; errCreate != nil {
			if dbutil.IsUniqueViolation(errCreate) {
				continue
			}
			return nil, fmt.Errorf("ledger: create card: %w", errCreate)
		}
		return card, nil
	}
	return nil, ErrCodeGenerationExhausted
}

// Get returns a card by id, expiring it first if its expiry date has passed.
func (s *Store) Get(ctx context.Context, id uint64) (*models.GiftCard, error) {
	card, ok := s.cache.GetByID(ctx, id)
	if !ok {
		card = &models.GiftCard{}
		if errFind := s.db.WithContext(ctx).First(card, id).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return nil, NotFound("gift card", id)
			}
			return nil, fmt.Errorf("ledger: get card: %w", errFind)
		}
		s.cache.Set(ctx, card)
	}
	return s.expireOnRead(ctx, card)
}

// GetByCode returns a card by its code, expiring it first if due.
func (s *Store) GetByCode(ctx context.Context, code string) (*models.GiftCard, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, NotFound("gift card", code)
	}
	card, ok := s.cache.GetByCode(ctx, code)
	if !ok {
		card = &models.GiftCard{}
		if errFind := s.db.WithContext(ctx).Where("code = ?", code).First(card).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return nil, NotFound("gift card", code)
			}
			return nil, fmt.Errorf("ledger: get card by code: %w", errFind)
		}
		s.cache.Set(ctx, card)
	}
	return s.expireOnRead(ctx, card)
}

func (s *Store) expireOnRead(ctx context.Context, card *models.GiftCard) (*models.GiftCard, error) {
	if card.Status != models.GiftCardStatusActive || !card.IsExpiredAt(s.now()) {
		return card, nil
	}
	changed, errExpire := s.ExpireTx(ctx, s.db.WithContext(ctx), card)
	if errExpire != nil {
		return nil, errExpire
	}
	s.Invalidate(ctx, card)
	if changed {
		return card, nil
	}
	// Someone else moved the card first; the cached copy is stale.
	fresh := &models.GiftCard{}
	if errFind := s.db.WithContext(ctx).First(fresh, card.ID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, NotFound("gift card", card.ID)
		}
		return nil, fmt.Errorf("ledger: reload card: %w", errFind)
	}
	return fresh, nil
}

// ExpireTx moves an ACTIVE, past-expiry card to EXPIRED. The write re-checks
// both conditions, so a card is expired at most once. card is updated in place.
// The cache is left alone; callers invalidate once tx has committed.
func (s *Store) ExpireTx(ctx context.Context, tx *gorm.DB, card *models.GiftCard) (bool, error) {
	now := s.now()
	res := tx.Model(&models.GiftCard{}).
		Where("id = ? AND status = ? AND expiry_date IS NOT NULL AND expiry_date < ?", card.ID, models.GiftCardStatusActive, now).
		Updates(map[string]any{
			"status":     models.GiftCardStatusExpired,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("ledger: expire card: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	card.Status = models.GiftCardStatusExpired
	card.Version++
	card.UpdatedAt = now
	log.WithFields(log.Fields{"card_id": card.ID, "code": MaskCode(card.Code)}).Info("gift card expired")
	return true, nil
}

// ExpireIfDue re-reads a card from the database and expires it if it is still
// ACTIVE and past expiry.
func (s *Store) ExpireIfDue(ctx context.Context, id uint64) (bool, error) {
	var card models.GiftCard
	if errFind := s.db.WithContext(ctx).First(&card, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return false, NotFound("gift card", id)
		}
		return false, fmt.Errorf("ledger: load card: %w", errFind)
	}
	if card.Status != models.GiftCardStatusActive || !card.IsExpiredAt(s.now()) {
		return false, nil
	}
	changed, errExpire := s.ExpireTx(ctx, s.db.WithContext(ctx), &card)
	if errExpire != nil {
		return false, errExpire
	}
	if changed {
		s.Invalidate(ctx, &card)
	}
	return changed, nil
}

// Delete removes a card that was never redeemed and has no ledger history.
func (s *Store) Delete(ctx context.Context, id uint64) error {
	var card models.GiftCard
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := dbutil.ForUpdate(tx).First(&card, id).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return NotFound("gift card", id)
			}
			return fmt.Errorf("ledger: load card: %w", errFind)
		}
		if card.Status == models.GiftCardStatusRedeemed {
			return Invalid(ErrInvalidState, "redeemed gift cards cannot be deleted")
		}
		var history int64
		if errCount := tx.Model(&models.Transaction{}).Where("gift_card_id = ?", id).Count(&history).Error; errCount != nil {
			return fmt.Errorf("ledger: count history: %w", errCount)
		}
		if history > 0 {
			return Invalid(ErrHasHistory, "gift card %d has %d ledger entries", id, history)
		}
		if errDelete := tx.Delete(&models.GiftCard{}, id).Error; errDelete != nil {
			return fmt.Errorf("ledger: delete card: %w", errDelete)
		}
		return nil
	})
	if errTx != nil {
		return errTx
	}
	s.Invalidate(ctx, &card)
	return nil
}

// List returns cards matching filter ordered by id.
func (s *Store) List(ctx context.Context, filter CardFilter) ([]models.GiftCard, error) {
	if errValidate := filter.Validate(); errValidate != nil {
		return nil, errValidate
	}
	q := filter.Apply(s.db.WithContext(ctx).Model(&models.GiftCard{})).Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var cards []models.GiftCard
	if errFind := q.Find(&cards).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list cards: %w", errFind)
	}
	return cards, nil
}

// CardRef identifies a card by id or by code.
type CardRef struct {
	ID   uint64
	Code string
}

func (r CardRef) String() string {
	if r.ID != 0 {
		return fmt.Sprint(r.ID)
	}
	return NormalizeCode(r.Code)
}

// LockCard loads a card inside tx, taking a row lock where supported.
func (s *Store) LockCard(tx *gorm.DB, ref CardRef) (*models.GiftCard, error) {
	q := dbutil.ForUpdate(tx)
	var card models.GiftCard
	var errFind error
	switch {
	case ref.ID != 0:
		errFind = q.First(&card, ref.ID).Error
	case strings.TrimSpace(ref.Code) != "":
		errFind = q.Where("code = ?", NormalizeCode(ref.Code)).First(&card).Error
	default:
		return nil, Invalid(ErrInvalidInput, "gift card id or code is required")
	}
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, NotFound("gift card", ref)
		}
		return nil, fmt.Errorf("ledger: lock card: %w", errFind)
	}
	return &card, nil
}

// ApplyBalance writes a new balance and status guarded by the card's version.
// It returns ErrConcurrentModification when another writer got there first.
// card is updated in place on success.
func (s *Store) ApplyBalance(tx *gorm.DB, card *models.GiftCard, balance int64, status models.GiftCardStatus) error {
	if balance < 0 || balance > card.Value {
		return fmt.Errorf("ledger: balance %d outside [0, %d] for card %d", balance, card.Value, card.ID)
	}
	now := s.now()
	res := tx.Model(&models.GiftCard{}).
		Where("id = ? AND version = ?", card.ID, card.Version).
		Updates(map[string]any{
			"balance":    balance,
			"status":     status,
			"version":    card.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		if dbutil.IsWriteConflict(res.Error) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("ledger: update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	card.Balance = balance
	card.Status = status
	card.Version++
	card.UpdatedAt = now
	return nil
}

// AppendTransaction is the only write path for ledger entries.
func (s *Store) AppendTransaction(tx *gorm.DB, entry *models.Transaction) error {
	if entry == nil || entry.GiftCardID == 0 {
		return Invalid(ErrInvalidInput, "ledger entry requires a gift card")
	}
	if entry.BalanceBefore < 0 || entry.BalanceAfter < 0 {
		return fmt.Errorf("ledger: negative balance in entry for card %d", entry.GiftCardID)
	}
	entry.ID = 0
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if errCreate := tx.Create(entry).Error; errCreate != nil {
		if dbutil.IsWriteConflict(errCreate) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("ledger: append entry: %w", errCreate)
	}
	return nil
}

// Transactions returns a card's ledger in creation order.
func (s *Store) Transactions(ctx context.Context, cardID uint64) ([]models.Transaction, error) {
	var entries []models.Transaction
	if errFind := s.db.WithContext(ctx).
		Where("gift_card_id = ?", cardID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", errFind)
	}
	return entries, nil
}

// MarkReminderSent records the expiry reminder offset last delivered.
func (s *Store) MarkReminderSent(ctx context.Context, card *models.GiftCard, days int) error {
	res := s.db.WithContext(ctx).Model(&models.GiftCard{}).
		Where("id = ?", card.ID).
		Updates(map[string]any{"last_reminder_days": days, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("ledger: mark reminder: %w", res.Error)
	}
	s.Invalidate(ctx, card)
	card.LastReminderDays = &days
	return nil
}

// Invalidate drops cached copies of card by id and by code.
func (s *Store) Invalidate(ctx context.Context, card *models.GiftCard) {
	if card == nil {
		return
	}
	s.cache.Invalidate(ctx, card.ID, card.Code)
}

// MaskCode hides the middle segments of a code for logs.
func MaskCode(code string) string {
	parts := strings.Split(code, "-")
	if len(parts) != codeSegments+1 {
		if len(code) > 4 {
			return code[:2] + "..." + code[len(code)-2:]
		}
		return code
	}
	return parts[0] + "-****-****-" + parts[len(parts)-1]
}
