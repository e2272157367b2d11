package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"escrowdesk/internal/utils"
)

type TradeEventType string

const (
	EventTradeCreated         TradeEventType = "TRADE_CREATED"
	EventTradeFunded          TradeEventType = "TRADE_FUNDED"
	EventTradePaymentSent     TradeEventType = "TRADE_PAYMENT_SENT"
	EventTradeDelivered       TradeEventType = "TRADE_DELIVERED"
	EventTradeCompleted       TradeEventType = "TRADE_COMPLETED"
	EventTradeDisputed        TradeEventType = "TRADE_DISPUTED"
	EventTradeCancelled       TradeEventType = "TRADE_CANCELLED"
	EventTradeDepositTimeout  TradeEventType = "TRADE_DEPOSIT_TIMEOUT"
	EventTradeDisputeResolved TradeEventType = "TRADE_DISPUTE_RESOLVED"
)

// TradeEvent полезная нагрузка события outbox: снимок сделки после перехода.
type TradeEvent struct {
	EventID   string         `json:"eventId"`
	Type      TradeEventType `json:"type"`
	ActorID   string         `json:"actorId,omitempty"`
	ActorRole TradeRole      `json:"actorRole,omitempty"`
	From      TradeStatus    `json:"from,omitempty"`
	Trade     Trade          `json:"trade"`
	Rating    *int           `json:"rating,omitempty"`
	Outcome   DisputeOutcome `json:"outcome,omitempty"`
	At        time.Time      `json:"at"`
}

// OutboxEvent отложенный побочный эффект перехода; пишется в той же транзакции,
// что и смена статуса.
type OutboxEvent struct {
	ID             string         `gorm:"primaryKey;size:21" json:"id"`
	IdempotencyKey string         `gorm:"size:36;not null;uniqueIndex" json:"idempotencyKey"`
	TradeID        uint           `gorm:"not null;index" json:"tradeId"`
	EventType      TradeEventType `gorm:"type:varchar(40);not null" json:"eventType"`
	Payload        datatypes.JSON `gorm:"type:json;not null" json:"payload" swaggertype:"object"`
	Attempts       int            `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt  time.Time      `gorm:"not null;index" json:"nextAttemptAt"`
	ProcessedAt    *time.Time     `gorm:"index" json:"processedAt"`
	FailedAt       *time.Time     `json:"failedAt"`
	LastError      string         `gorm:"type:text" json:"lastError"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

func (e *OutboxEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == "" {
		e.ID, err = utils.GenerateNanoID()
	}
	return
}
