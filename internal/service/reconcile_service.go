package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"tapcore/internal/chain"
	"tapcore/internal/clock"
	"tapcore/internal/errors"
	"tapcore/internal/model"
	"tapcore/internal/repository"
)

const reconcileBatchSize = 100

// ReconcileService resolves transactions left in processing after a
// submission timeout by querying authoritative ledger state. Each is settled
// exactly once: confirmed keeps the reservation (the spend was real), an
// explicit rejection fails the transaction and restores headroom.
type ReconcileService interface {
	Run(ctx context.Context) (settled int, err error)
}

type reconcileService struct {
	transactions repository.TransactionRepository
	ledger       LimitLedger
	chain        chain.Client
	notifier     notifierFunc
	clock        clock.Clock
	log          *logrus.Logger
	// staleAfter is how long a processing transaction may sit before the
	// sweep picks it up.
	staleAfter time.Duration
}

type notifierFunc func(ctx context.Context, tx *model.Transaction)

// NewReconcileService creates a reconciliation sweep.
func NewReconcileService(
	transactions repository.TransactionRepository,
	ledger LimitLedger,
	chainClient chain.Client,
	notify func(ctx context.Context, tx *model.Transaction),
	clk clock.Clock,
	log *logrus.Logger,
	staleAfter time.Duration,
) ReconcileService {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &reconcileService{
		transactions: transactions,
		ledger:       ledger,
		chain:        chainClient,
		notifier:     notify,
		clock:        clk,
		log:          log,
		staleAfter:   staleAfter,
	}
}

// Run sweeps stale processing transactions once.
func (s *reconcileService) Run(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.staleAfter)
	stale, err := s.transactions.ListStaleProcessing(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range stale {
		tx := &stale[i]
		if s.reconcileOne(ctx, tx) {
			settled++
		}
	}
	return settled, nil
}

func (s *reconcileService) reconcileOne(ctx context.Context, tx *model.Transaction) bool {
	// A transfer that timed out before the gateway returned a reference is
	// still addressable: the transaction id is the submission idempotency
	// key, and the gateway indexes by it.
	ref := tx.LedgerRef
	if ref == "" {
		ref = tx.ID.String()
	}

	finality, err := s.chain.GetTransactionFinality(ctx, ref)
	if err != nil {
		s.log.WithError(err).WithField("transaction_id", tx.ID).
			Warn("finality query failed, will retry next sweep")
		return false
	}

	switch finality {
	case chain.FinalityConfirmed:
		err := s.transactions.TransitionStatus(ctx, tx.ID, model.TransactionStatusProcessing, model.TransactionStatusCompleted,
			map[string]interface{}{"ledger_ref": ref})
		if err != nil {
			// Someone else settled it first; exactly-once holds either way.
			return false
		}
		tx.Status = model.TransactionStatusCompleted
		tx.LedgerRef = ref
		s.log.WithField("transaction_id", tx.ID).Info("reconciled as confirmed")
		s.notifier(ctx, tx)
		return true

	case chain.FinalityRejected:
		return s.failAndRelease(ctx, tx, errors.ReasonCode(errors.ErrNetworkRejected), "reconciled as rejected")

	case chain.FinalityNotFound:
		// The network has no record of the transfer: the timed-out POST never
		// landed. The sweep cutoff is well past the submission timeout, so it
		// cannot still be in flight; fail it and give the headroom back.
		return s.failAndRelease(ctx, tx, errors.ReasonCode(errors.ErrNetworkTimeout), "reconciled as lost")

	default:
		// Still pending on chain; leave it for the next sweep.
		return false
	}
}

// failAndRelease commits the terminal failed state and restores the card's
// headroom. A transaction that never settled on chain must not keep limit
// headroom consumed.
func (s *reconcileService) failAndRelease(ctx context.Context, tx *model.Transaction, reason, outcome string) bool {
	err := s.transactions.TransitionStatus(ctx, tx.ID, model.TransactionStatusProcessing, model.TransactionStatusFailed,
		map[string]interface{}{"failure_reason": reason})
	if err != nil {
		return false
	}
	tx.Status = model.TransactionStatusFailed
	tx.FailureReason = reason

	reserved := tx.CreatedAt
	if tx.SubmittedAt != nil {
		reserved = *tx.SubmittedAt
	}
	res := &Reservation{CardID: tx.CardID, Amount: tx.Amount, ResetDate: reserved}
	if err := s.ledger.Release(ctx, res); err != nil {
		s.log.WithError(err).WithField("transaction_id", tx.ID).Error("release after failure")
	}
	s.log.WithField("transaction_id", tx.ID).Info(outcome)
	s.notifier(ctx, tx)
	return true
}
