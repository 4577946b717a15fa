package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionStatus represents the status of a payment transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// Transaction represents a single tap-to-pay transfer from a card's custodial
// wallet to a merchant's receiving address. It references Card and Merchant by
// id only. A transaction is created pending before any external call, moves to
// processing once submission begins, and reaches a terminal status exactly
// once. A timed-out submission stays processing until reconciled against
// ledger state.
type Transaction struct {
	ID            uuid.UUID         `json:"id" gorm:"type:char(36);primaryKey"`
	CardID        uuid.UUID         `json:"card_id" gorm:"type:char(36);not null;index"`
	MerchantID    uuid.UUID         `json:"merchant_id" gorm:"type:char(36);not null;index"`
	TerminalID    string            `json:"terminal_id" gorm:"size:64;index"`
	Amount        decimal.Decimal   `json:"amount" gorm:"type:decimal(20,2);not null"`
	Fee           decimal.Decimal   `json:"fee" gorm:"type:decimal(20,2);not null;default:0"`
	Total         decimal.Decimal   `json:"total" gorm:"type:decimal(20,2);not null"`
	Status        TransactionStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	LedgerRef     string            `json:"ledger_ref,omitempty" gorm:"size:128;index"`
	FailureReason string            `json:"failure_reason,omitempty" gorm:"type:text"`
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`

	// Refund sub-record: set on compensating transactions only.
	OriginalTransactionID *uuid.UUID       `json:"original_transaction_id,omitempty" gorm:"type:char(36);index"`
	RefundedAt            *time.Time       `json:"refunded_at,omitempty"`
	RefundAmount          *decimal.Decimal `json:"refund_amount,omitempty" gorm:"type:decimal(20,2)"`
	RefundReason          string           `json:"refund_reason,omitempty" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate sets UUID before creating the record.
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IsRefund reports whether the transaction compensates an earlier one.
func (t *Transaction) IsRefund() bool {
	return t.OriginalTransactionID != nil
}
