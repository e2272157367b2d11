package models

import (
	"time"

	"gorm.io/gorm"

	"escrowdesk/internal/utils"
)

type TradeChat struct {
	ID        string    `gorm:"primaryKey;size:21" json:"id"`
	TradeID   uint      `gorm:"not null;uniqueIndex" json:"tradeId"`
	Trade     Trade     `gorm:"foreignKey:TradeID" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (c *TradeChat) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID, err = utils.GenerateNanoID()
	}
	return
}
