package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ListingType string

const (
	ListingTypeBuy  ListingType = "buy"
	ListingTypeSell ListingType = "sell"
)

// ListingCategory категория сделки; определяет соответствие ролей и действий.
type ListingCategory string

const (
	CategoryP2P    ListingCategory = "p2p"
	CategoryDomain ListingCategory = "domain"
)

func (c ListingCategory) Valid() bool {
	return c == CategoryP2P || c == CategoryDomain
}

const DefaultPaymentWindowMinutes = 15

// Listing предложение, из которого создаётся сделка.
type Listing struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	UserID               string          `gorm:"size:21;not null;index" json:"userId"`
	User                 User            `gorm:"foreignKey:UserID" json:"-"`
	ListingType          ListingType     `gorm:"type:varchar(4);not null" json:"listingType"`
	Category             ListingCategory `gorm:"type:varchar(10);not null;default:p2p" json:"category"`
	TokenOffered         string          `gorm:"type:varchar(20);not null" json:"tokenOffered"`
	Currency             string          `gorm:"type:varchar(10);not null" json:"currency"`
	ChainID              int64           `gorm:"not null" json:"chainId"`
	Amount               decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	MinAmount            decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"minAmount"`
	MaxAmount            decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"maxAmount"`
	PaymentMethod        string          `gorm:"type:varchar(100)" json:"paymentMethod"`
	PaymentWindowMinutes int             `gorm:"not null;default:15" json:"paymentWindowMinutes"`
	DomainName           string          `gorm:"type:varchar(255)" json:"domainName,omitempty"`
	Conditions           string          `gorm:"type:text" json:"conditions"`
	IsActive             bool            `gorm:"not null;default:true;index" json:"isActive"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// PaymentWindow окно депозита; при отсутствии значения используется 15 минут.
func (l Listing) PaymentWindow() time.Duration {
	m := l.PaymentWindowMinutes
	if m <= 0 {
		m = DefaultPaymentWindowMinutes
	}
	return time.Duration(m) * time.Minute
}
