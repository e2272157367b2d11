package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeStatusCreated         TradeStatus = "created"
	TradeStatusAwaitingDeposit TradeStatus = "awaiting_deposit"
	TradeStatusFunded          TradeStatus = "funded"
	TradeStatusPaymentSent     TradeStatus = "payment_sent"
	TradeStatusDelivered       TradeStatus = "delivered"
	TradeStatusCompleted       TradeStatus = "completed"
	TradeStatusDisputed        TradeStatus = "disputed"
	TradeStatusCancelled       TradeStatus = "cancelled"
	TradeStatusDepositTimeout  TradeStatus = "deposit_timeout"
	TradeStatusRefunded        TradeStatus = "refunded"
)

// AllTradeStatuses перечень статусов в порядке жизненного цикла.
var AllTradeStatuses = []TradeStatus{
	TradeStatusCreated,
	TradeStatusAwaitingDeposit,
	TradeStatusFunded,
	TradeStatusPaymentSent,
	TradeStatusDelivered,
	TradeStatusCompleted,
	TradeStatusDisputed,
	TradeStatusCancelled,
	TradeStatusDepositTimeout,
	TradeStatusRefunded,
}

func (s TradeStatus) Valid() bool {
	for _, st := range AllTradeStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal статусы, из которых нет переходов.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusCompleted, TradeStatusCancelled, TradeStatusDepositTimeout, TradeStatusRefunded:
		return true
	}
	return false
}

type Trade struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	EscrowID           uint64          `gorm:"not null;default:0;index" json:"escrowId"`
	ChainID            int64           `gorm:"not null" json:"chainId"`
	ListingID          uint            `gorm:"not null;index" json:"listingId"`
	Listing            Listing         `gorm:"foreignKey:ListingID" json:"-"`
	BuyerID            string          `gorm:"size:21;not null;index" json:"buyerId"`
	Buyer              User            `gorm:"foreignKey:BuyerID" json:"-"`
	SellerID           string          `gorm:"size:21;not null;index" json:"sellerId"`
	Seller             User            `gorm:"foreignKey:SellerID" json:"-"`
	Amount             decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	Currency           string          `gorm:"type:varchar(10);not null" json:"currency"`
	ListingCategory    ListingCategory `gorm:"type:varchar(10);not null;index" json:"listingCategory"`
	Status             TradeStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	DepositDeadline    *time.Time      `gorm:"index" json:"depositDeadline"`
	DepositedAt        *time.Time      `json:"depositedAt"`
	PaymentSentAt      *time.Time      `json:"paymentSentAt"`
	PaymentConfirmedAt *time.Time      `json:"paymentConfirmedAt"`
	CompletedAt        *time.Time      `json:"completedAt"`
	Metadata           TradeMetadata   `gorm:"type:json" json:"metadata"`
	CreatedAt          time.Time       `gorm:"index" json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// IsParty проверяет, является ли пользователь одной из сторон сделки.
func (t Trade) IsParty(userID string) bool {
	return userID != "" && (userID == t.BuyerID || userID == t.SellerID)
}

// Counterparty возвращает вторую сторону сделки.
func (t Trade) Counterparty(userID string) string {
	if userID == t.BuyerID {
		return t.SellerID
	}
	return t.BuyerID
}
