package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tapcore/internal/model"
)

// AccountRepository defines account persistence operations.
type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) error
	Update(ctx context.Context, account *model.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	ListActive(ctx context.Context) ([]model.Account, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// Create creates a new account.
func (r *accountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// Update updates an existing account.
func (r *accountRepository) Update(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

// FindByID finds an account by ID.
func (r *accountRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// ListActive lists all active accounts.
func (r *accountRepository) ListActive(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	if err := r.db.WithContext(ctx).Where("active = ?", true).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
