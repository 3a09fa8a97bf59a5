package models

import "time"

// TransactionType classifies a ledger entry.
type TransactionType string

// Ledger entry types.
const (
	TransactionTypePurchase   TransactionType = "PURCHASE"
	TransactionTypeRedemption TransactionType = "REDEMPTION"
	TransactionTypeRefund     TransactionType = "REFUND"
)

// Transaction is an append-only ledger entry for a gift card.
// Rows are never updated or deleted.
type Transaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	GiftCardID uint64          `gorm:"not null;index:idx_transactions_card_created,priority:1"`
	Type       TransactionType `gorm:"type:varchar(16);not null"`

	Amount        int64 `gorm:"not null"` // Positive, or a signed delta for REFUND.
	BalanceBefore int64 `gorm:"not null"`
	BalanceAfter  int64 `gorm:"not null"`

	ActorID  *string  `gorm:"type:varchar(128)"`
	Metadata Metadata `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_transactions_card_created,priority:2"`
}

// RedemptionMethod is how a customer presented the card.
type RedemptionMethod string

// Supported redemption methods.
const (
	RedemptionMethodQRCode    RedemptionMethod = "QR_CODE"
	RedemptionMethodCodeEntry RedemptionMethod = "CODE_ENTRY"
	RedemptionMethodLink      RedemptionMethod = "LINK"
	RedemptionMethodAPI       RedemptionMethod = "API"
)

// Valid reports whether m is a known redemption method.
func (m RedemptionMethod) Valid() bool {
	switch m {
	case RedemptionMethodQRCode, RedemptionMethodCodeEntry, RedemptionMethodLink, RedemptionMethodAPI:
		return true
	default:
		return false
	}
}

// Redemption is the user-facing record of a single redemption event.
// Each row pairs with exactly one REDEMPTION transaction.
type Redemption struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	GiftCardID    uint64 `gorm:"not null;index"`
	TransactionID uint64 `gorm:"not null;uniqueIndex"`
	MerchantID    uint64 `gorm:"not null;index"`

	Amount       int64            `gorm:"not null"`
	Method       RedemptionMethod `gorm:"type:varchar(16);not null"`
	BalanceAfter int64            `gorm:"not null"`
	ActorID      *string          `gorm:"type:varchar(128)"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
