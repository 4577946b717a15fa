package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"tapcore/internal/errors"
	"tapcore/internal/model"
)

// CounterState is a snapshot of a card's spend counters used for the
// compare-and-set update. A reservation, release or rollover reset is applied
// only if the stored row still matches the observed state.
type CounterState struct {
	DailySpent    decimal.Decimal
	MonthlySpent  decimal.Decimal
	LastResetDate time.Time
}

// CardRepository defines card persistence operations.
type CardRepository interface {
	Create(ctx context.Context, card *model.Card) error
	Update(ctx context.Context, card *model.Card) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error)
	ListByStatus(ctx context.Context, status model.CardStatus) ([]model.Card, error)
	// CompareAndSetCounters atomically replaces the spend counters and reset
	// date, but only if the stored row still carries the observed state.
	// Returns errors.ErrStorageConflict when a concurrent writer got there
	// first. This is the single concurrency-critical primitive: check,
	// rollover reset and increment all commit through it as one step.
	CompareAndSetCounters(ctx context.Context, id uuid.UUID, observed, next CounterState) error
	// UpdateStatus sets lifecycle status together with block metadata.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.CardStatus, blockedAt *time.Time, blockedReason string) error
}

type cardRepository struct {
	db *gorm.DB
}

// NewCardRepository creates a new card repository.
func NewCardRepository(db *gorm.DB) CardRepository {
	return &cardRepository{db: db}
}

// Create creates a new card.
func (r *cardRepository) Create(ctx context.Context, card *model.Card) error {
	return r.db.WithContext(ctx).Create(card).Error
}

// Update updates an existing card.
func (r *cardRepository) Update(ctx context.Context, card *model.Card) error {
	return r.db.WithContext(ctx).Save(card).Error
}

// FindByID finds a card by ID.
func (r *cardRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	var card model.Card
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&card).Error; err != nil {
		return nil, err
	}
	return &card, nil
}

// ListByStatus lists cards in the given lifecycle status.
func (r *cardRepository) ListByStatus(ctx context.Context, status model.CardStatus) ([]model.Card, error) {
	var cards []model.Card
	if err := r.db.WithContext(ctx).Where("status = ?", status).Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

// CompareAndSetCounters performs the conditional counter update. The WHERE
// clause pins the previously observed counters and reset date, so a lost race
// shows up as zero affected rows rather than a silently clobbered counter.
func (r *cardRepository) CompareAndSetCounters(ctx context.Context, id uuid.UUID, observed, next CounterState) error {
	res := r.db.WithContext(ctx).Model(&model.Card{}).
		Where("id = ? AND daily_spent = ? AND monthly_spent = ? AND last_reset_date = ?",
			id, observed.DailySpent, observed.MonthlySpent, observed.LastResetDate).
		Updates(map[string]interface{}{
			"daily_spent":     next.DailySpent,
			"monthly_spent":   next.MonthlySpent,
			"last_reset_date": next.LastResetDate,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrStorageConflict
	}
	return nil
}

// UpdateStatus sets the card lifecycle status and block metadata.
func (r *cardRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.CardStatus, blockedAt *time.Time, blockedReason string) error {
	res := r.db.WithContext(ctx).Model(&model.Card{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         status,
			"blocked_at":     blockedAt,
			"blocked_reason": blockedReason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
