package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WalletSecret holds an account's blockchain signing key encrypted at rest.
// Ciphertext includes the AEAD authentication tag; Nonce is unique per
// encryption. Algorithm carries scheme and version (e.g. "chacha20poly1305/v1")
// so the format survives a future master-key or scheme rotation. The plaintext
// key exists only transiently inside vault.Sign and is never persisted, logged
// or returned across a component boundary.
type WalletSecret struct {
	ID         uuid.UUID      `json:"id" gorm:"type:char(36);primaryKey"`
	AccountID  uuid.UUID      `json:"account_id" gorm:"type:char(36);not null;uniqueIndex"`
	Ciphertext []byte         `json:"-" gorm:"type:blob;not null"`
	Nonce      []byte         `json:"-" gorm:"type:varbinary(24);not null"`
	Algorithm  string         `json:"algorithm" gorm:"size:64;not null"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Account Account `json:"-" gorm:"foreignKey:AccountID"`
}

// BeforeCreate sets UUID before creating the record.
func (s *WalletSecret) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
