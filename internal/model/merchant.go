package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Merchant represents a payee with a receiving address on the ledger network.
type Merchant struct {
	ID               uuid.UUID      `json:"id" gorm:"type:char(36);primaryKey"`
	Name             string         `json:"name" gorm:"size:255;not null;index"`
	ReceivingAddress string         `json:"receiving_address" gorm:"size:128;not null"`
	Active           bool           `json:"active" gorm:"default:true;index"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate sets UUID before creating the record.
func (m *Merchant) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
