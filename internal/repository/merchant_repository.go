package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tapcore/internal/model"
)

// MerchantRepository defines merchant persistence operations.
type MerchantRepository interface {
	Create(ctx context.Context, merchant *model.Merchant) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Merchant, error)
}

type merchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository creates a new merchant repository.
func NewMerchantRepository(db *gorm.DB) MerchantRepository {
	return &merchantRepository{db: db}
}

// Create creates a new merchant.
func (r *merchantRepository) Create(ctx context.Context, merchant *model.Merchant) error {
	return r.db.WithContext(ctx).Create(merchant).Error
}

// FindByID finds a merchant by ID.
func (r *merchantRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Merchant, error) {
	var merchant model.Merchant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&merchant).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}
