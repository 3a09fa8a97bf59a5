package fraud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlacklistEntry is a request to bar an identity value.
type BlacklistEntry struct {
	Type      models.BlacklistType
	Value     string
	Severity  models.BlacklistSeverity
	AutoBlock bool
	Reason    string
	ExpiresAt *time.Time
}

func validType(t models.BlacklistType) bool {
	switch t {
	case models.BlacklistTypeEmail, models.BlacklistTypeIP, models.BlacklistTypePhone,
		models.BlacklistTypePaymentMethod, models.BlacklistTypeUserID:
		return true
	}
	return false
}

// AddToBlacklist inserts or replaces the entry for (type, normalized value).
func (g *Gate) AddToBlacklist(ctx context.Context, entry BlacklistEntry) (*models.FraudBlacklist, error) {
	if !validType(entry.Type) {
		return nil, ledger.Invalid(ledger.ErrInvalidInput, "unknown blacklist type %q", entry.Type)
	}
	value := Normalize(entry.Type, entry.Value)
	if value == "" {
		return nil, ledger.Invalid(ledger.ErrInvalidInput, "blacklist value is required")
	}
	severity := entry.Severity
	if severity == "" {
		severity = models.BlacklistSeverityMedium
	}
	now := g.now()
	row := &models.FraudBlacklist{
		Type:      entry.Type,
		Value:     value,
		Severity:  severity,
		AutoBlock: entry.AutoBlock,
		Reason:    strings.TrimSpace(entry.Reason),
		ExpiresAt: entry.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	errUpsert := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}, {Name: "value"}},
		DoUpdates: clause.AssignmentColumns([]string{"severity", "auto_block", "reason", "expires_at", "updated_at"}),
	}).Create(row).Error
	if errUpsert != nil {
		return nil, fmt.Errorf("fraud: upsert blacklist: %w", errUpsert)
	}
	return row, nil
}

// RemoveFromBlacklist deletes the entry for (type, value). Missing entries are not an error.
func (g *Gate) RemoveFromBlacklist(ctx context.Context, kind models.BlacklistType, value string) error {
	res := g.db.WithContext(ctx).
		Where("type = ? AND value = ?", kind, Normalize(kind, value)).
		Delete(&models.FraudBlacklist{})
	if res.Error != nil {
		return fmt.Errorf("fraud: delete blacklist: %w", res.Error)
	}
	return nil
}

// IsBlacklisted returns the active entry for (type, value), if any.
func (g *Gate) IsBlacklisted(ctx context.Context, kind models.BlacklistType, value string) (*models.FraudBlacklist, bool, error) {
	normalized := Normalize(kind, value)
	if normalized == "" {
		return nil, false, nil
	}
	var row models.FraudBlacklist
	errFind := g.db.WithContext(ctx).Where("type = ? AND value = ?", kind, normalized).First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fraud: lookup blacklist: %w", errFind)
	}
	if !row.ActiveAt(g.now()) {
		return nil, false, nil
	}
	return &row, true, nil
}

type identity struct {
	kind  models.BlacklistType
	value string
}

func (in CheckInput) identities() []identity {
	var out []identity
	add := func(kind models.BlacklistType, raw string) {
		if v := Normalize(kind, raw); v != "" {
			out = append(out, identity{kind: kind, value: v})
		}
	}
	add(models.BlacklistTypeEmail, in.Email)
	add(models.BlacklistTypeIP, in.IPAddress)
	add(models.BlacklistTypePhone, in.Phone)
	add(models.BlacklistTypePaymentMethod, in.PaymentMethod)
	if in.UserID != nil {
		add(models.BlacklistTypeUserID, fmt.Sprint(*in.UserID))
	}
	return out
}

// activeMatches returns every unexpired blacklist row matching the input.
func (g *Gate) activeMatches(ctx context.Context, in CheckInput) ([]models.FraudBlacklist, error) {
	ids := in.identities()
	if len(ids) == 0 {
		return nil, nil
	}
	q := g.db.WithContext(ctx).Model(&models.FraudBlacklist{})
	cond := g.db.Where("type = ? AND value = ?", ids[0].kind, ids[0].value)
	for _, id := range ids[1:] {
		cond = cond.Or("type = ? AND value = ?", id.kind, id.value)
	}
	var rows []models.FraudBlacklist
	if errFind := q.Where(cond).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("fraud: match blacklist: %w", errFind)
	}
	now := g.now()
	active := rows[:0]
	for _, row := range rows {
		if row.ActiveAt(now) {
			active = append(active, row)
		}
	}
	return active, nil
}
