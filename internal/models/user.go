package models

import (
	"time"

	"gorm.io/gorm"

	"escrowdesk/internal/utils"
)

// UserRole явная роль пользователя, задаётся при создании и не выводится из других полей.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

type User struct {
	ID            string    `gorm:"primaryKey;size:21" json:"id"`
	Username      string    `gorm:"type:varchar(255);not null;unique" json:"username"`
	Password      *string   `gorm:"type:varchar(255)" json:"-"`
	Role          UserRole  `gorm:"type:varchar(10);not null;default:user" json:"role"`
	TwoFAEnabled  bool      `gorm:"not null;default:false" json:"twofaEnabled"`
	TOTPSecret    *string   `gorm:"type:varchar(255)" json:"-"`
	WalletAddress string    `gorm:"type:varchar(64)" json:"walletAddress"`
	RegisteredAt  time.Time `gorm:"autoCreateTime" json:"registeredAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID, err = utils.GenerateNanoID()
	}
	if u.Role == "" {
		u.Role = UserRoleUser
	}
	return
}

func (u User) IsAdmin() bool { return u.Role == UserRoleAdmin }
