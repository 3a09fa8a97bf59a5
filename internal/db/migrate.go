package db

import (
	"fmt"

	"github.com/giftvault/giftvault/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table owned by the service.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Merchant{},
		&models.Payment{},
		&models.GiftCard{},
		&models.Transaction{},
		&models.Redemption{},
		&models.Chargeback{},
		&models.FraudBlacklist{},
		&models.IPTrackingEvent{},
		&models.VerificationToken{},
		&models.Job{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
