// Package breakage reports issued value that will never be redeemed.
package breakage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/giftvault/giftvault/internal/models"
	"gorm.io/gorm"
)

const (
	// GracePeriod is how long after expiry unredeemed value stays claimable.
	GracePeriod = 30 * 24 * time.Hour
	batchSize   = 500
)

// Filter narrows the scan. Nil fields are ignored.
type Filter struct {
	MerchantID *uint64
	IssuedFrom *time.Time
	IssuedTo   *time.Time
}

// Totals are sums in minor units.
type Totals struct {
	TotalIssued     int64 `json:"totalIssued"`
	TotalUnredeemed int64 `json:"totalUnredeemed"`
	BreakageAmount  int64 `json:"breakageAmount"`
	CardCount       int64 `json:"cardCount"`
}

// Report is the result of Calculate. Top-level totals add every currency
// together; ByCurrency keeps them apart.
type Report struct {
	Totals
	BreakagePercentage float64           `json:"breakagePercentage"`
	ByCurrency         map[string]Totals `json:"byCurrency"`
	CalculatedAt       time.Time         `json:"calculatedAt"`
}

// Calculator scans gift cards read-only.
type Calculator struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCalculator returns a calculator. now defaults to the wall clock.
func NewCalculator(db *gorm.DB, now func() time.Time) *Calculator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Calculator{db: db, now: now}
}

// Calculate sums issued value, unredeemed balances, and breakage. A card
// counts as breakage when its expiry lies more than GracePeriod in the past.
func (c *Calculator) Calculate(ctx context.Context, filter Filter) (*Report, error) {
	if filter.IssuedFrom != nil && filter.IssuedTo != nil && filter.IssuedTo.Before(*filter.IssuedFrom) {
		return nil, fmt.Errorf("breakage: issued_to must not be before issued_from")
	}
	now := c.now()
	cutoff := now.Add(-GracePeriod)
	report := &Report{ByCurrency: map[string]Totals{}, CalculatedAt: now}

	var batch []models.GiftCard
	q := c.db.WithContext(ctx).Model(&models.GiftCard{}).
		Select("id", "value", "balance", "currency", "status", "expiry_date")
	if filter.MerchantID != nil {
		q = q.Where("merchant_id = ?", *filter.MerchantID)
	}
	if filter.IssuedFrom != nil {
		q = q.Where("created_at >= ?", *filter.IssuedFrom)
	}
	if filter.IssuedTo != nil {
		q = q.Where("created_at < ?", *filter.IssuedTo)
	}
	errScan := q.FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		for _, card := range batch {
			cur := strings.ToUpper(card.Currency)
			t := report.ByCurrency[cur]
			t.CardCount++
			t.TotalIssued += card.Value
			if card.Status != models.GiftCardStatusRedeemed {
				t.TotalUnredeemed += card.Balance
			}
			if card.ExpiryDate != nil && card.ExpiryDate.Before(cutoff) {
				t.BreakageAmount += card.Balance
			}
			report.ByCurrency[cur] = t
		}
		return nil
	}).Error
	if errScan != nil {
		return nil, fmt.Errorf("breakage: scan cards: %w", errScan)
	}

	for _, t := range report.ByCurrency {
		report.CardCount += t.CardCount
		report.TotalIssued += t.TotalIssued
		report.TotalUnredeemed += t.TotalUnredeemed
		report.BreakageAmount += t.BreakageAmount
	}
	if report.TotalIssued > 0 {
		report.BreakagePercentage = float64(report.BreakageAmount) / float64(report.TotalIssued) * 100
	}
	return report, nil
}
