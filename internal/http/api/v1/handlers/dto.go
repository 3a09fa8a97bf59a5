package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
)

// formatMinor renders minor units as a decimal string with two places.
func formatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// giftCardDTO is the public view of a card. The code is masked.
type giftCardDTO struct {
	ID                     uint64                `json:"id"`
	Code                   string                `json:"code"`
	MerchantID             uint64                `json:"merchantId"`
	Value                  int64                 `json:"value"`
	Balance                int64                 `json:"balance"`
	DisplayValue           string                `json:"displayValue"`
	DisplayBalance         string                `json:"displayBalance"`
	Currency               string                `json:"currency"`
	Status                 models.GiftCardStatus `json:"status"`
	ExpiryDate             *time.Time            `json:"expiryDate,omitempty"`
	AllowPartialRedemption bool                  `json:"allowPartialRedemption"`
	CreatedAt              time.Time             `json:"createdAt"`
}

func toGiftCardDTO(card *models.GiftCard) giftCardDTO {
	return giftCardDTO{
		ID:                     card.ID,
		Code:                   ledger.MaskCode(card.Code),
		MerchantID:             card.MerchantID,
		Value:                  card.Value,
		Balance:                card.Balance,
		DisplayValue:           formatMinor(card.Value),
		DisplayBalance:         formatMinor(card.Balance),
		Currency:               card.Currency,
		Status:                 card.Status,
		ExpiryDate:             card.ExpiryDate,
		AllowPartialRedemption: card.AllowPartialRedemption,
		CreatedAt:              card.CreatedAt,
	}
}

// transactionDTO is one ledger entry.
type transactionDTO struct {
	ID            uint64                 `json:"id"`
	Type          models.TransactionType `json:"type"`
	Amount        int64                  `json:"amount"`
	BalanceBefore int64                  `json:"balanceBefore"`
	BalanceAfter  int64                  `json:"balanceAfter"`
	DisplayAmount string                 `json:"displayAmount"`
	Metadata      models.Metadata        `json:"metadata"`
	CreatedAt     time.Time              `json:"createdAt"`
}

func toTransactionDTO(entry *models.Transaction) transactionDTO {
	return transactionDTO{
		ID:            entry.ID,
		Type:          entry.Type,
		Amount:        entry.Amount,
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
		DisplayAmount: formatMinor(entry.Amount),
		Metadata:      entry.Metadata,
		CreatedAt:     entry.CreatedAt,
	}
}

// parseOptionalUint reads a positive integer query value.
func parseOptionalUint(raw string) (*uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return nil, fmt.Errorf("invalid id %q", raw)
	}
	return &v, nil
}

// parseOptionalTime reads an RFC3339 timestamp or a YYYY-MM-DD date.
func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q", raw)
	}
	return &t, nil
}
