package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"escrowdesk/internal/utils"
)

// Notification запись журнала активности пользователя по событию сделки
// swagger:model
type Notification struct {
	ID               string         `gorm:"primaryKey;size:21" json:"id"`
	UserID           string         `gorm:"size:21;not null;index;uniqueIndex:idx_notification_event_user" json:"userId"`
	TeamID           *string        `gorm:"size:21" json:"teamId,omitempty"`
	EventID          *string        `gorm:"size:36;uniqueIndex:idx_notification_event_user" json:"eventId,omitempty"`
	Action           string         `gorm:"type:varchar(64);not null" json:"action"`
	Title            string         `gorm:"type:varchar(255);not null" json:"title"`
	Message          string         `gorm:"type:text;not null" json:"message"`
	ActionURL        string         `gorm:"type:varchar(255)" json:"actionUrl"`
	NotificationType string         `gorm:"type:varchar(32);not null" json:"notificationType"`
	Payload          datatypes.JSON `gorm:"type:json" json:"metadata" swaggertype:"object"`
	SentAt           *time.Time     `gorm:"index" json:"sentAt"`
	ReadAt           *time.Time     `gorm:"index" json:"readAt"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID, err = utils.GenerateNanoID()
	}
	return
}

// Read признак прочтения.
func (n Notification) Read() bool { return n.ReadAt != nil }
