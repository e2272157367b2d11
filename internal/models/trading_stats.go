package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRating стартовый рейтинг нового пользователя.
var DefaultRating = decimal.NewFromInt(5)

// UserTradingStats агрегированные счётчики пользователя. Создаются лениво,
// никогда не удаляются.
type UserTradingStats struct {
	UserID           string          `gorm:"primaryKey;size:21" json:"userId"`
	TotalTrades      int64           `gorm:"not null;default:0" json:"totalTrades"`
	SuccessfulTrades int64           `gorm:"not null;default:0" json:"successfulTrades"`
	TotalVolume      decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"totalVolume"`
	DisputesWon      int64           `gorm:"not null;default:0" json:"disputesWon"`
	DisputesLost     int64           `gorm:"not null;default:0" json:"disputesLost"`
	Rating           decimal.Decimal `gorm:"type:decimal(3,1);not null;default:5" json:"rating"`
	RatingCount      int64           `gorm:"not null;default:0" json:"ratingCount"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (UserTradingStats) TableName() string { return "user_trading_stats" }

// StatsLedgerEntry отметка о том, что событие уже учтено в статистике пользователя.
type StatsLedgerEntry struct {
	EventID   string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:21"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (StatsLedgerEntry) TableName() string { return "stats_ledger" }
