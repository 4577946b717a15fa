package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CardStatus represents the lifecycle status of a card.
type CardStatus string

const (
	CardStatusActive  CardStatus = "active"
	CardStatusBlocked CardStatus = "blocked"
	CardStatusExpired CardStatus = "expired"
)

// Card represents a stored-value card bound to an account, carrying its own
// spend limits and running counters. The counters are only ever mutated
// through the limit ledger's conditional update; dailySpent <= dailyLimit and
// monthlySpent <= monthlyLimit hold after every committed debit.
type Card struct {
	ID                     uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	AccountID              uuid.UUID       `json:"account_id" gorm:"type:char(36);not null;index"`
	Status                 CardStatus      `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	SingleTransactionLimit decimal.Decimal `json:"single_transaction_limit" gorm:"type:decimal(20,2);not null"`
	DailyLimit             decimal.Decimal `json:"daily_limit" gorm:"type:decimal(20,2);not null"`
	MonthlyLimit           decimal.Decimal `json:"monthly_limit" gorm:"type:decimal(20,2);not null"`
	DailySpent             decimal.Decimal `json:"daily_spent" gorm:"type:decimal(20,2);not null;default:0"`
	MonthlySpent           decimal.Decimal `json:"monthly_spent" gorm:"type:decimal(20,2);not null;default:0"`
	LastResetDate          time.Time       `json:"last_reset_date" gorm:"not null"`
	ExpiryDate             time.Time       `json:"expiry_date" gorm:"not null;index"`
	BlockedAt              *time.Time      `json:"blocked_at,omitempty"`
	BlockedReason          string          `json:"blocked_reason,omitempty" gorm:"type:text"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	DeletedAt              gorm.DeletedAt  `json:"-" gorm:"index"`

	// Relations
	Account Account `json:"-" gorm:"foreignKey:AccountID"`
}

// BeforeCreate sets UUID before creating the record.
func (c *Card) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ExpiredAt reports whether the card is past its expiry date at the given instant.
func (c *Card) ExpiredAt(now time.Time) bool {
	return c.Status == CardStatusExpired || now.After(c.ExpiryDate)
}

// DailyHeadroom returns the remaining spend allowed today.
func (c *Card) DailyHeadroom() decimal.Decimal {
	return c.DailyLimit.Sub(c.DailySpent)
}

// MonthlyHeadroom returns the remaining spend allowed this month.
func (c *Card) MonthlyHeadroom() decimal.Decimal {
	return c.MonthlyLimit.Sub(c.MonthlySpent)
}
