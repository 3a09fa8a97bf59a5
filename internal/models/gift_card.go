package models

import "time"

// GiftCardStatus is the lifecycle state of a gift card.
type GiftCardStatus string

// Gift card lifecycle states.
const (
	GiftCardStatusActive    GiftCardStatus = "ACTIVE"
	GiftCardStatusRedeemed  GiftCardStatus = "REDEEMED"
	GiftCardStatusExpired   GiftCardStatus = "EXPIRED"
	GiftCardStatusCancelled GiftCardStatus = "CANCELLED"
)

// GiftCard represents an issued gift card. Amounts are minor currency units.
type GiftCard struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code       string `gorm:"type:varchar(32);not null;uniqueIndex"` // GIFT-XXXX-XXXX-XXXX.
	MerchantID uint64 `gorm:"not null;index"`                        // Owning merchant.

	PurchaserUserID *uint64 `gorm:"index"` // User who paid for the card.
	PaymentID       *uint64 `gorm:"index"` // Payment that funded the card.

	Value    int64          `gorm:"not null"`                        // Original face value, immutable.
	Balance  int64          `gorm:"not null"`                        // Spendable remainder.
	Currency string         `gorm:"type:varchar(8);not null"`        // Opaque currency label.
	Status   GiftCardStatus `gorm:"type:varchar(16);not null;index"` // Lifecycle state.
	Version  int64          `gorm:"not null;default:0"`              // Optimistic lock counter.

	ExpiryDate             *time.Time `gorm:"index"`    // Expiration, if any.
	AllowPartialRedemption bool       `gorm:"not null"` // Whether amount < balance may be redeemed.

	RecipientEmail   *string `gorm:"type:varchar(255)"` // Reminder target.
	RecipientPhone   *string `gorm:"type:varchar(32)"`  // Reminder target.
	LastReminderDays *int    // Offset of the last expiry reminder sent.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// IsExpiredAt reports whether the card's expiry date lies before now.
func (c *GiftCard) IsExpiredAt(now time.Time) bool {
	if c == nil || c.ExpiryDate == nil {
		return false
	}
	return c.ExpiryDate.Before(now)
}

// HasRecipient reports whether the card has any reminder contact.
func (c *GiftCard) HasRecipient() bool {
	if c == nil {
		return false
	}
	return (c.RecipientEmail != nil && *c.RecipientEmail != "") || (c.RecipientPhone != nil && *c.RecipientPhone != "")
}
