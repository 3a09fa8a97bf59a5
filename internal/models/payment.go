package models

import "time"

// PaymentStatus tracks a gateway payment funding a gift card.
type PaymentStatus string

// Payment states.
const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is a gift card purchase as seen by the payment gateway.
type Payment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	ProviderRef string  `gorm:"type:varchar(128);not null;uniqueIndex"` // Payment intent or order id.
	MerchantID  uint64  `gorm:"not null;index"`
	UserID      *uint64 `gorm:"index"`
	GiftCardID  *uint64 `gorm:"index"`

	Amount   int64         `gorm:"not null"`
	Currency string        `gorm:"type:varchar(8);not null"`
	Status   PaymentStatus `gorm:"type:varchar(16);not null;index"`

	PaymentMethodFingerprint string `gorm:"type:varchar(128);index"`
	Email                    string `gorm:"type:varchar(255)"`
	Phone                    string `gorm:"type:varchar(32)"`
	IPAddress                string `gorm:"type:varchar(64)"`

	FraudScore           int  `gorm:"not null;default:0"`
	RequiresManualReview bool `gorm:"not null;default:false"`

	// Issuance parameters applied when the payment completes.
	ExpiryDays             int     `gorm:"not null;default:0"`
	AllowPartialRedemption bool    `gorm:"not null"`
	RecipientEmail         *string `gorm:"type:varchar(255)"`
	RecipientPhone         *string `gorm:"type:varchar(32)"`

	CreatedAt   time.Time `gorm:"not null;autoCreateTime;index"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"`
	CompletedAt *time.Time
}

// Merchant owns gift cards and accrues a payout balance.
type Merchant struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Name  string  `gorm:"type:varchar(255);not null"`
	Email string  `gorm:"type:varchar(255)"`
	Phone *string `gorm:"type:varchar(32)"`

	PayoutBalance int64 `gorm:"not null;default:0"` // Never negative.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}
