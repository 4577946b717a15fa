package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tapcore/internal/model"
)

// WalletSecretRepository defines wallet secret persistence operations.
type WalletSecretRepository interface {
	Create(ctx context.Context, secret *model.WalletSecret) error
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*model.WalletSecret, error)
}

type walletSecretRepository struct {
	db *gorm.DB
}

// NewWalletSecretRepository creates a new wallet secret repository.
func NewWalletSecretRepository(db *gorm.DB) WalletSecretRepository {
	return &walletSecretRepository{db: db}
}

// Create creates a new wallet secret record.
func (r *walletSecretRepository) Create(ctx context.Context, secret *model.WalletSecret) error {
	return r.db.WithContext(ctx).Create(secret).Error
}

// FindByAccountID finds the wallet secret for an account.
func (r *walletSecretRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*model.WalletSecret, error) {
	var secret model.WalletSecret
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&secret).Error; err != nil {
		return nil, err
	}
	return &secret, nil
}
