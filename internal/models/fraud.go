package models

import "time"

// BlacklistType is the identity dimension a blacklist entry matches.
type BlacklistType string

// Blacklist dimensions.
const (
	BlacklistTypeEmail         BlacklistType = "EMAIL"
	BlacklistTypeIP            BlacklistType = "IP"
	BlacklistTypePhone         BlacklistType = "PHONE"
	BlacklistTypePaymentMethod BlacklistType = "PAYMENT_METHOD"
	BlacklistTypeUserID        BlacklistType = "USER_ID"
)

// BlacklistSeverity grades an entry.
type BlacklistSeverity string

// Severity levels.
const (
	BlacklistSeverityLow      BlacklistSeverity = "LOW"
	BlacklistSeverityMedium   BlacklistSeverity = "MEDIUM"
	BlacklistSeverityHigh     BlacklistSeverity = "HIGH"
	BlacklistSeverityCritical BlacklistSeverity = "CRITICAL"
)

// FraudBlacklist is a normalized identity value barred from value-creating actions.
type FraudBlacklist struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Type  BlacklistType `gorm:"type:varchar(32);not null;uniqueIndex:idx_blacklist_type_value,priority:1"`
	Value string        `gorm:"type:varchar(255);not null;uniqueIndex:idx_blacklist_type_value,priority:2"`

	Severity  BlacklistSeverity `gorm:"type:varchar(16);not null"`
	AutoBlock bool              `gorm:"not null;default:false"`
	Reason    string            `gorm:"type:text"`
	ExpiresAt *time.Time        // Inert once passed.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// ActiveAt reports whether the entry still applies at now.
func (b *FraudBlacklist) ActiveAt(now time.Time) bool {
	if b == nil {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// IPTrackingEvent is an append-only action record used for rate statistics.
type IPTrackingEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	IPAddress string  `gorm:"type:varchar(64);not null;index:idx_ip_events_ip_action,priority:1"`
	UserID    *uint64 `gorm:"index"`
	Action    string  `gorm:"type:varchar(64);not null;index:idx_ip_events_ip_action,priority:2"`

	CreatedAt time.Time `gorm:"not null;index"`
}

// VerificationTokenKind distinguishes short-lived account tokens.
type VerificationTokenKind string

// Token kinds swept by the cleanup job.
const (
	VerificationTokenEmail         VerificationTokenKind = "EMAIL_VERIFICATION"
	VerificationTokenPasswordReset VerificationTokenKind = "PASSWORD_RESET"
)

// VerificationToken is a one-time email verification or password reset token.
type VerificationToken struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Token  string                `gorm:"type:varchar(128);not null;uniqueIndex"`
	Kind   VerificationTokenKind `gorm:"type:varchar(32);not null"`
	UserID uint64                `gorm:"not null;index"`

	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}
