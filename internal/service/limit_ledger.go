package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tapcore/internal/clock"
	"tapcore/internal/errors"
	"tapcore/internal/model"
	"tapcore/internal/repository"
)

// reserveRetries bounds internal retries after a lost counter-update race.
const reserveRetries = 3

// Reservation is a provisional, already-committed increment of a card's spend
// counters. It must be released if the downstream transaction fails before
// funds move; a completed transaction keeps it.
type Reservation struct {
	CardID    uuid.UUID
	Amount    decimal.Decimal
	ResetDate time.Time
	released  bool
}

// DecisionInvalidator invalidates cached authorization decisions for a card.
type DecisionInvalidator interface {
	Invalidate(ctx context.Context, cardID uuid.UUID) error
}

// LimitLedger enforces per-card spend limits with an atomic
// check-and-increment per card. Two concurrent reservations for the same card
// can never both succeed if their combined amount would exceed the daily or
// monthly limit.
type LimitLedger interface {
	// Reserve atomically checks and increments the card's counters.
	Reserve(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal) (*Reservation, error)
	// Release is the exact inverse of Reserve. Idempotent.
	Release(ctx context.Context, res *Reservation) error
	// Probe runs the same checks as Reserve, including the lazy rollover
	// reset, without consuming headroom. Used by cache pre-warming.
	Probe(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal) error
	// ResetLimits zeroes both counters and restarts the reset window.
	ResetLimits(ctx context.Context, cardID uuid.UUID) error
}

type limitLedger struct {
	cards repository.CardRepository
	cache DecisionInvalidator
	clock clock.Clock
	log   *logrus.Logger
	// Mutex map for per-card serialization. Different cards proceed fully in
	// parallel; the compare-and-set update still guards against writers
	// outside this process.
	cardMutexes sync.Map
}

// NewLimitLedger creates a limit ledger.
func NewLimitLedger(cards repository.CardRepository, cache DecisionInvalidator, clk clock.Clock, log *logrus.Logger) LimitLedger {
	return &limitLedger{
		cards: cards,
		cache: cache,
		clock: clk,
		log:   log,
	}
}

// getMutex returns the mutex for a specific card ID.
func (l *limitLedger) getMutex(cardID uuid.UUID) *sync.Mutex {
	value, _ := l.cardMutexes.LoadOrStore(cardID.String(), &sync.Mutex{})
	return value.(*sync.Mutex)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

// rolledCounters applies the lazy day/month rollover to the card's counters
// relative to now. It returns the effective counters, the reset date to
// persist, and whether anything changed.
func rolledCounters(card *model.Card, now time.Time) (daily, monthly decimal.Decimal, reset time.Time, changed bool) {
	daily = card.DailySpent
	monthly = card.MonthlySpent
	reset = card.LastResetDate
	if !sameDay(card.LastResetDate, now) {
		daily = decimal.Zero
		changed = true
	}
	if !sameMonth(card.LastResetDate, now) {
		monthly = decimal.Zero
		changed = true
	}
	if changed {
		reset = now
	}
	return daily, monthly, reset, changed
}

func (l *limitLedger) checkStatus(card *model.Card, now time.Time) error {
	if card.Status == model.CardStatusBlocked {
		return errors.ErrCardBlocked
	}
	if card.ExpiredAt(now) {
		return errors.ErrCardExpired
	}
	return nil
}

// Reserve performs the check-and-increment. The rollover reset, the limit
// check and the increment commit as one compare-and-set step; a lost race is
// retried a bounded number of times and only then surfaced.
func (l *limitLedger) Reserve(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal) (*Reservation, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.ErrInvalidAmount
	}

	mutex := l.getMutex(cardID)
	mutex.Lock()
	defer mutex.Unlock()

	var lastErr error
	for attempt := 0; attempt < reserveRetries; attempt++ {
		card, err := l.cards.FindByID(ctx, cardID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, errors.ErrCardNotFound
			}
			return nil, fmt.Errorf("load card: %w", err)
		}

		now := l.clock.Now()
		if err := l.checkStatus(card, now); err != nil {
			return nil, err
		}

		observed := repository.CounterState{
			DailySpent:    card.DailySpent,
			MonthlySpent:  card.MonthlySpent,
			LastResetDate: card.LastResetDate,
		}
		daily, monthly, reset, rolled := rolledCounters(card, now)

		if daily.Add(amount).GreaterThan(card.DailyLimit) {
			l.persistRollover(ctx, cardID, observed, daily, monthly, reset, rolled)
			return nil, errors.ErrDailyLimitExceeded
		}
		if monthly.Add(amount).GreaterThan(card.MonthlyLimit) {
			l.persistRollover(ctx, cardID, observed, daily, monthly, reset, rolled)
			return nil, errors.ErrMonthlyLimitExceeded
		}

		next := repository.CounterState{
			DailySpent:    daily.Add(amount),
			MonthlySpent:  monthly.Add(amount),
			LastResetDate: reset,
		}
		err = l.cards.CompareAndSetCounters(ctx, cardID, observed, next)
		if err == errors.ErrStorageConflict {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reserve counters: %w", err)
		}

		// Invalidation happens before returning so a stale allow cannot be
		// served after this debit.
		_ = l.cache.Invalidate(ctx, cardID)
		return &Reservation{CardID: cardID, Amount: amount, ResetDate: reset}, nil
	}
	return nil, fmt.Errorf("reserve lost %d update races: %w", reserveRetries, lastErr)
}

// persistRollover writes back a rollover reset observed on a denied
// reservation so the stored counters stay fresh. A lost race is harmless; the
// next access retries the rollover.
func (l *limitLedger) persistRollover(ctx context.Context, cardID uuid.UUID, observed repository.CounterState, daily, monthly decimal.Decimal, reset time.Time, rolled bool) {
	if !rolled {
		return
	}
	next := repository.CounterState{DailySpent: daily, MonthlySpent: monthly, LastResetDate: reset}
	if err := l.cards.CompareAndSetCounters(ctx, cardID, observed, next); err != nil && err != errors.ErrStorageConflict {
		l.log.WithError(err).WithField("card_id", cardID).Warn("persist rollover reset")
		return
	}
	_ = l.cache.Invalidate(ctx, cardID)
}

// Release decrements the counters incremented by Reserve. If a rollover
// boundary was crossed since the reservation, the corresponding counter was
// already zeroed and is left alone; counters never go negative.
func (l *limitLedger) Release(ctx context.Context, res *Reservation) error {
	if res == nil || res.released {
		return nil
	}

	mutex := l.getMutex(res.CardID)
	mutex.Lock()
	defer mutex.Unlock()

	var lastErr error
	for attempt := 0; attempt < reserveRetries; attempt++ {
		card, err := l.cards.FindByID(ctx, res.CardID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.ErrCardNotFound
			}
			return fmt.Errorf("load card: %w", err)
		}

		observed := repository.CounterState{
			DailySpent:    card.DailySpent,
			MonthlySpent:  card.MonthlySpent,
			LastResetDate: card.LastResetDate,
		}
		daily := card.DailySpent
		monthly := card.MonthlySpent
		if sameDay(card.LastResetDate, res.ResetDate) {
			daily = clampZero(daily.Sub(res.Amount))
		}
		if sameMonth(card.LastResetDate, res.ResetDate) {
			monthly = clampZero(monthly.Sub(res.Amount))
		}

		next := repository.CounterState{DailySpent: daily, MonthlySpent: monthly, LastResetDate: card.LastResetDate}
		err = l.cards.CompareAndSetCounters(ctx, res.CardID, observed, next)
		if err == errors.ErrStorageConflict {
			lastErr = err
			continue
		}
		if err != nil {
			return fmt.Errorf("release counters: %w", err)
		}

		_ = l.cache.Invalidate(ctx, res.CardID)
		res.released = true
		return nil
	}
	return fmt.Errorf("release lost %d update races: %w", reserveRetries, lastErr)
}

// Probe runs the reservation checks without incrementing. A rollover observed
// on the way is still persisted so the probe path cannot bypass the reset
// logic.
func (l *limitLedger) Probe(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.ErrInvalidAmount
	}

	mutex := l.getMutex(cardID)
	mutex.Lock()
	defer mutex.Unlock()

	card, err := l.cards.FindByID(ctx, cardID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.ErrCardNotFound
		}
		return fmt.Errorf("load card: %w", err)
	}

	now := l.clock.Now()
	if err := l.checkStatus(card, now); err != nil {
		return err
	}

	observed := repository.CounterState{
		DailySpent:    card.DailySpent,
		MonthlySpent:  card.MonthlySpent,
		LastResetDate: card.LastResetDate,
	}
	daily, monthly, reset, rolled := rolledCounters(card, now)
	l.persistRollover(ctx, cardID, observed, daily, monthly, reset, rolled)

	if daily.Add(amount).GreaterThan(card.DailyLimit) {
		return errors.ErrDailyLimitExceeded
	}
	if monthly.Add(amount).GreaterThan(card.MonthlyLimit) {
		return errors.ErrMonthlyLimitExceeded
	}
	return nil
}

// ResetLimits zeroes both counters and restarts the reset window now.
func (l *limitLedger) ResetLimits(ctx context.Context, cardID uuid.UUID) error {
	mutex := l.getMutex(cardID)
	mutex.Lock()
	defer mutex.Unlock()

	var lastErr error
	for attempt := 0; attempt < reserveRetries; attempt++ {
		card, err := l.cards.FindByID(ctx, cardID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.ErrCardNotFound
			}
			return fmt.Errorf("load card: %w", err)
		}

		observed := repository.CounterState{
			DailySpent:    card.DailySpent,
			MonthlySpent:  card.MonthlySpent,
			LastResetDate: card.LastResetDate,
		}
		next := repository.CounterState{
			DailySpent:    decimal.Zero,
			MonthlySpent:  decimal.Zero,
			LastResetDate: l.clock.Now(),
		}
		err = l.cards.CompareAndSetCounters(ctx, cardID, observed, next)
		if err == errors.ErrStorageConflict {
			lastErr = err
			continue
		}
		if err != nil {
			return fmt.Errorf("reset counters: %w", err)
		}

		_ = l.cache.Invalidate(ctx, cardID)
		return nil
	}
	return fmt.Errorf("reset lost %d update races: %w", reserveRetries, lastErr)
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
