package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tapcore/internal/errors"
	"tapcore/internal/model"
)

// TransactionRepository defines transaction persistence operations.
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.Transaction) error
	Update(ctx context.Context, tx *model.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	// TransitionStatus moves a transaction from one status to another,
	// applying extra column updates in the same statement. The WHERE clause
	// pins the current status so a terminal state can be reached exactly
	// once; a lost race returns errors.ErrStorageConflict.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.TransactionStatus, updates map[string]interface{}) error
	// ListStaleProcessing returns processing transactions submitted before
	// the cutoff; these are candidates for reconciliation.
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]model.Transaction, error)
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// Create creates a new transaction record.
func (r *transactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

// Update updates an existing transaction record.
func (r *transactionRepository) Update(ctx context.Context, tx *model.Transaction) error {
	return r.db.WithContext(ctx).Save(tx).Error
}

// FindByID finds a transaction by ID.
func (r *transactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	var tx model.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// TransitionStatus performs a guarded status transition.
func (r *transactionRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.TransactionStatus, updates map[string]interface{}) error {
	cols := map[string]interface{}{"status": to}
	for k, v := range updates {
		cols[k] = v
	}
	res := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrStorageConflict
	}
	return nil
}

// ListStaleProcessing lists processing transactions whose submission started
// before the cutoff.
func (r *transactionRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	q := r.db.WithContext(ctx).
		Where("status = ? AND submitted_at IS NOT NULL AND submitted_at < ?", model.TransactionStatusProcessing, cutoff).
		Order("submitted_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}
