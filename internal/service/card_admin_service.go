package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tapcore/internal/clock"
	"tapcore/internal/errors"
	"tapcore/internal/model"
	"tapcore/internal/repository"
)

// CardAdminService exposes the operational card mutations. Every mutation
// invalidates the decision cache for the card before returning.
type CardAdminService interface {
	BlockCard(ctx context.Context, cardID uuid.UUID, reason string) error
	UnblockCard(ctx context.Context, cardID uuid.UUID) error
	ResetLimits(ctx context.Context, cardID uuid.UUID) error
	GetCard(ctx context.Context, cardID uuid.UUID) (*model.Card, error)
}

type cardAdminService struct {
	cards  repository.CardRepository
	ledger LimitLedger
	cache  DecisionInvalidator
	clock  clock.Clock
	log    *logrus.Logger
}

// NewCardAdminService creates a card admin service.
func NewCardAdminService(cards repository.CardRepository, ledger LimitLedger, cache DecisionInvalidator, clk clock.Clock, log *logrus.Logger) CardAdminService {
	return &cardAdminService{
		cards:  cards,
		ledger: ledger,
		cache:  cache,
		clock:  clk,
		log:    log,
	}
}

// BlockCard blocks a card, recording when and why.
func (s *cardAdminService) BlockCard(ctx context.Context, cardID uuid.UUID, reason string) error {
	now := s.clock.Now()
	if err := s.cards.UpdateStatus(ctx, cardID, model.CardStatusBlocked, &now, reason); err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.ErrCardNotFound
		}
		return fmt.Errorf("block card: %w", err)
	}
	if err := s.cache.Invalidate(ctx, cardID); err != nil {
		return fmt.Errorf("invalidate decisions: %w", err)
	}
	s.log.WithFields(logrus.Fields{"card_id": cardID, "reason": reason}).Info("card blocked")
	return nil
}

// UnblockCard returns a blocked card to active and clears block metadata.
func (s *cardAdminService) UnblockCard(ctx context.Context, cardID uuid.UUID) error {
	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.ErrCardNotFound
		}
		return fmt.Errorf("load card: %w", err)
	}
	if card.Status != model.CardStatusBlocked {
		return nil
	}
	if err := s.cards.UpdateStatus(ctx, cardID, model.CardStatusActive, nil, ""); err != nil {
		return fmt.Errorf("unblock card: %w", err)
	}
	if err := s.cache.Invalidate(ctx, cardID); err != nil {
		return fmt.Errorf("invalidate decisions: %w", err)
	}
	s.log.WithField("card_id", cardID).Info("card unblocked")
	return nil
}

// ResetLimits zeroes the card's spend counters.
func (s *cardAdminService) ResetLimits(ctx context.Context, cardID uuid.UUID) error {
	// The ledger owns counter writes and performs its own cache invalidation.
	if err := s.ledger.ResetLimits(ctx, cardID); err != nil {
		return err
	}
	s.log.WithField("card_id", cardID).Info("card limits reset")
	return nil
}

// GetCard returns a card by id.
func (s *cardAdminService) GetCard(ctx context.Context, cardID uuid.UUID) (*model.Card, error) {
	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrCardNotFound
		}
		return nil, err
	}
	return card, nil
}
