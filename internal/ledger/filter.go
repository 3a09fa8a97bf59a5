package ledger

import (
	"time"

	"github.com/giftvault/giftvault/internal/models"
	"gorm.io/gorm"
)

// maxListLimit caps a single List page.
const maxListLimit = 1000

// CardFilter selects gift cards. Nil fields are ignored.
type CardFilter struct {
	MerchantID    *uint64
	Statuses      []models.GiftCardStatus
	ExpiresBefore *time.Time
	ExpiresAfter  *time.Time
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	// HasRecipient restricts to cards with an email or phone contact.
	HasRecipient bool
	// AfterID enables keyset pagination ordered by id.
	AfterID uint64
	Limit   int
}

// Validate rejects inverted ranges and out-of-range limits.
func (f CardFilter) Validate() error {
	if f.Limit < 0 || f.Limit > maxListLimit {
		return Invalid(ErrInvalidInput, "limit must be between 0 and %d", maxListLimit)
	}
	if f.ExpiresBefore != nil && f.ExpiresAfter != nil && !f.ExpiresAfter.Before(*f.ExpiresBefore) {
		return Invalid(ErrInvalidInput, "expires_after must be before expires_before")
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
		return Invalid(ErrInvalidInput, "created_to must not be before created_from")
	}
	for _, status := range f.Statuses {
		switch status {
		case models.GiftCardStatusActive, models.GiftCardStatusRedeemed, models.GiftCardStatusExpired, models.GiftCardStatusCancelled:
		default:
			return Invalid(ErrInvalidInput, "unknown status %q", status)
		}
	}
	return nil
}

// Apply adds the filter's predicates to q.
func (f CardFilter) Apply(q *gorm.DB) *gorm.DB {
	if f.MerchantID != nil {
		q = q.Where("merchant_id = ?", *f.MerchantID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.ExpiresBefore != nil {
		q = q.Where("expiry_date IS NOT NULL AND expiry_date < ?", *f.ExpiresBefore)
	}
	if f.ExpiresAfter != nil {
		q = q.Where("expiry_date IS NOT NULL AND expiry_date >= ?", *f.ExpiresAfter)
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		q = q.Where("created_at < ?", *f.CreatedTo)
	}
	if f.HasRecipient {
		q = q.Where("(recipient_email IS NOT NULL AND recipient_email <> '') OR (recipient_phone IS NOT NULL AND recipient_phone <> '')")
	}
	if f.AfterID > 0 {
		q = q.Where("id > ?", f.AfterID)
	}
	return q
}
