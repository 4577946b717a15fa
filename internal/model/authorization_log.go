package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuthorizationDecisionOutcome is the outcome of an authorization check.
type AuthorizationDecisionOutcome string

const (
	DecisionAllow AuthorizationDecisionOutcome = "allow"
	DecisionDeny  AuthorizationDecisionOutcome = "deny"
)

// AuthorizationLog records one authorization decision for audit purposes.
// Every decision is logged regardless of outcome.
type AuthorizationLog struct {
	ID         uuid.UUID                    `json:"id" gorm:"type:char(36);primaryKey"`
	CardID     uuid.UUID                    `json:"card_id" gorm:"type:char(36);not null;index"`
	MerchantID uuid.UUID                    `json:"merchant_id" gorm:"type:char(36);index"`
	TerminalID string                       `json:"terminal_id" gorm:"size:64"`
	Amount     decimal.Decimal              `json:"amount" gorm:"type:decimal(20,2);not null"`
	Decision   AuthorizationDecisionOutcome `json:"decision" gorm:"type:varchar(10);not null;index"`
	Reason     string                       `json:"reason,omitempty" gorm:"size:64"`
	FromCache  bool                         `json:"from_cache" gorm:"default:false"`
	CreatedAt  time.Time                    `json:"created_at"`
	DeletedAt  gorm.DeletedAt               `json:"-" gorm:"index"`
}

// BeforeCreate sets UUID before creating the record.
func (l *AuthorizationLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
