package repository

import (
	"context"

	"gorm.io/gorm"

	"tapcore/internal/model"
)

// AuthorizationLogRepository defines authorization audit log persistence.
type AuthorizationLogRepository interface {
	Create(ctx context.Context, log *model.AuthorizationLog) error
	CreateBatch(ctx context.Context, logs []model.AuthorizationLog) error
}

type authorizationLogRepository struct {
	db *gorm.DB
}

// NewAuthorizationLogRepository creates a new authorization log repository.
func NewAuthorizationLogRepository(db *gorm.DB) AuthorizationLogRepository {
	return &authorizationLogRepository{db: db}
}

// Create creates a single log entry.
func (r *authorizationLogRepository) Create(ctx context.Context, log *model.AuthorizationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// CreateBatch creates multiple log entries in a single statement.
func (r *authorizationLogRepository) CreateBatch(ctx context.Context, logs []model.AuthorizationLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}
