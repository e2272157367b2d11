package models

import (
	"time"

	"gorm.io/gorm"

	"escrowdesk/internal/utils"
)

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeSystem MessageType = "SYSTEM"
	MessageTypeFile   MessageType = "FILE"
)

// TradeMessage сообщение в чате сделки. У системных сообщений UserID пустой,
// а EventID ссылается на событие outbox.
type TradeMessage struct {
	ID          string      `gorm:"primaryKey;size:21" json:"id"`
	ChatID      string      `gorm:"size:21;not null;index" json:"chatId"`
	Chat        TradeChat   `gorm:"foreignKey:ChatID" json:"-"`
	UserID      *string     `gorm:"size:21;index" json:"userId"`
	Type        MessageType `gorm:"type:varchar(10);not null" json:"type"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	Attachments []string    `gorm:"type:json;serializer:json" json:"attachments,omitempty"`
	EventID     *string     `gorm:"size:36;uniqueIndex" json:"-"`
	SenderName  string      `gorm:"-" json:"senderName,omitempty"`
	CreatedAt   time.Time   `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (m *TradeMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID, err = utils.GenerateNanoID()
	}
	return
}
