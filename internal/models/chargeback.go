package models

import "time"

// ChargebackStatus is the dispute state reported by the payment gateway.
type ChargebackStatus string

// Chargeback states. PENDING is the only non-terminal state.
const (
	ChargebackStatusPending   ChargebackStatus = "PENDING"
	ChargebackStatusWon       ChargebackStatus = "WON"
	ChargebackStatusLost      ChargebackStatus = "LOST"
	ChargebackStatusWithdrawn ChargebackStatus = "WITHDRAWN"
)

// Terminal reports whether no further transition is allowed.
func (s ChargebackStatus) Terminal() bool {
	return s == ChargebackStatusWon || s == ChargebackStatusLost || s == ChargebackStatusWithdrawn
}

// Chargeback records a payment dispute against a funded gift card.
type Chargeback struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	ExternalID string  `gorm:"type:varchar(128);not null;uniqueIndex"` // Gateway chargeback id.
	PaymentID  uint64  `gorm:"not null;index"`
	GiftCardID *uint64 `gorm:"index"`

	Amount int64  `gorm:"not null"`
	Fee    int64  `gorm:"not null;default:0"`
	Reason string `gorm:"type:text"`

	Status   ChargebackStatus `gorm:"type:varchar(16);not null;index"`
	Evidence *string          `gorm:"type:text"`
	Metadata Metadata         `gorm:"type:jsonb"`

	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime"`
	ResolvedAt *time.Time
}
