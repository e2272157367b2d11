package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"escrowdesk/internal/models"
)

// Models перечень моделей для автомиграции.
func Models() []any {
	return []any{
		&models.User{},
		&models.Token{},
		&models.Listing{},
		&models.Trade{},
		&models.UserTradingStats{},
		&models.StatsLedgerEntry{},
		&models.Notification{},
		&models.TradeChat{},
		&models.TradeMessage{},
		&models.OutboxEvent{},
	}
}

func NewDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate создаёт/обновляет схему.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}
