package ledger

import (
	"fmt"

	"github.com/giftvault/giftvault/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdjustPayout moves a merchant's payout balance by delta inside tx,
// flooring at zero.
func AdjustPayout(tx *gorm.DB, merchantID uint64, delta int64) error {
	if delta == 0 {
		return nil
	}
	res := tx.Model(&models.Merchant{}).Where("id = ?", merchantID).
		Update("payout_balance", gorm.Expr("CASE WHEN payout_balance + ? < 0 THEN 0 ELSE payout_balance + ? END", delta, delta))
	if res.Error != nil {
		return fmt.Errorf("ledger: adjust payout: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.WithField("merchant_id", merchantID).Warn("ledger: merchant not found for payout adjustment")
	}
	return nil
}
