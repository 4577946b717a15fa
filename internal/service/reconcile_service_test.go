package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapcore/internal/chain"
	"tapcore/internal/clock"
	"tapcore/internal/errors"
	"tapcore/internal/model"
)

type reconcileFixture struct {
	cards *fakeCardRepo
	txs   *fakeTxRepo
	clk   *clock.Fixed
	chain *fakeChainClient
	svc   ReconcileService

	mu       sync.Mutex
	notified []model.TransactionStatus
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{
		cards: newFakeCardRepo(),
		txs:   newFakeTxRepo(),
		clk:   &clock.Fixed{T: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)},
		chain: &fakeChainClient{},
	}
	ledger := NewLimitLedger(f.cards, newCountingInvalidator(), f.clk, testLogger())
	f.svc = NewReconcileService(
		f.txs, ledger, f.chain,
		func(ctx context.Context, tx *model.Transaction) {
			f.mu.Lock()
			f.notified = append(f.notified, tx.Status)
			f.mu.Unlock()
		},
		f.clk, testLogger(), 2*time.Minute,
	)
	return f
}

// staleTransaction persists a processing transaction submitted five minutes
// ago, with the matching spend already on the card's counters.
func (f *reconcileFixture) staleTransaction(t *testing.T, amount int64) *model.Transaction {
	t.Helper()
	card := testCard(f.clk)
	card.DailySpent = decimal.NewFromInt(amount)
	card.MonthlySpent = decimal.NewFromInt(amount)
	require.NoError(t, f.cards.Create(context.Background(), card))

	submittedAt := f.clk.T.Add(-5 * time.Minute)
	tx := &model.Transaction{
		CardID:      card.ID,
		Amount:      decimal.NewFromInt(amount),
		Total:       decimal.NewFromInt(amount),
		Status:      model.TransactionStatusProcessing,
		SubmittedAt: &submittedAt,
	}
	require.NoError(t, f.txs.Create(context.Background(), tx))
	return tx
}

func TestReconcile_ConfirmedSettlesOnce(t *testing.T) {
	f := newReconcileFixture(t)
	tx := f.staleTransaction(t, 40)
	f.chain.finalities = []chain.Finality{chain.FinalityConfirmed}

	settled, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	stored := f.txs.get(tx.ID)
	assert.Equal(t, model.TransactionStatusCompleted, stored.Status)
	// No gateway reference was recorded at submit time, so the sweep queried
	// by the transaction's own idempotency key.
	assert.Equal(t, tx.ID.String(), f.chain.lastRef)
	assert.Equal(t, tx.ID.String(), stored.LedgerRef)

	// The spend was real: counters keep the charge, exactly once.
	card := f.cards.get(tx.CardID)
	assert.True(t, card.DailySpent.Equal(decimal.NewFromInt(40)))

	// A second sweep finds nothing left to settle.
	settled, err = f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	card = f.cards.get(tx.CardID)
	assert.True(t, card.DailySpent.Equal(decimal.NewFromInt(40)))

	assert.Equal(t, []model.TransactionStatus{model.TransactionStatusCompleted}, f.notified)
}

func TestReconcile_RejectedFailsAndReleases(t *testing.T) {
	f := newReconcileFixture(t)
	tx := f.staleTransaction(t, 40)
	f.chain.finalities = []chain.Finality{chain.FinalityRejected}

	settled, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	stored := f.txs.get(tx.ID)
	assert.Equal(t, model.TransactionStatusFailed, stored.Status)
	assert.Equal(t, "NETWORK_REJECTED", stored.FailureReason)

	card := f.cards.get(tx.CardID)
	assert.True(t, card.DailySpent.IsZero())
	assert.True(t, card.MonthlySpent.IsZero())

	assert.Equal(t, []model.TransactionStatus{model.TransactionStatusFailed}, f.notified)
}

func TestReconcile_LostSubmissionFailsAndReleases(t *testing.T) {
	f := newReconcileFixture(t)
	tx := f.staleTransaction(t, 40)
	// The submission timed out before the POST landed: the network has no
	// record of the transfer, so it can never confirm.
	f.chain.finalities = []chain.Finality{chain.FinalityNotFound}

	settled, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	stored := f.txs.get(tx.ID)
	assert.Equal(t, model.TransactionStatusFailed, stored.Status)
	assert.Equal(t, "NETWORK_TIMEOUT", stored.FailureReason)
	assert.Equal(t, tx.ID.String(), f.chain.lastRef)

	// The spend never happened; the headroom comes back.
	card := f.cards.get(tx.CardID)
	assert.True(t, card.DailySpent.IsZero())
	assert.True(t, card.MonthlySpent.IsZero())

	assert.Equal(t, []model.TransactionStatus{model.TransactionStatusFailed}, f.notified)
}

func TestReconcile_StillPendingLeftAlone(t *testing.T) {
	f := newReconcileFixture(t)
	tx := f.staleTransaction(t, 40)
	f.chain.finalities = []chain.Finality{chain.FinalityPending}

	settled, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)

	stored := f.txs.get(tx.ID)
	assert.Equal(t, model.TransactionStatusProcessing, stored.Status)
	card := f.cards.get(tx.CardID)
	assert.True(t, card.DailySpent.Equal(decimal.NewFromInt(40)))
}

func TestReconcile_FinalityErrorRetriedNextSweep(t *testing.T) {
	f := newReconcileFixture(t)
	tx := f.staleTransaction(t, 40)
	f.chain.finalityErr = errors.ErrNetworkTimeout

	settled, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.Equal(t, model.TransactionStatusProcessing, f.txs.get(tx.ID).Status)

	// Gateway recovers; the next sweep settles it.
	f.chain.finalityErr = nil
	f.chain.finalities = []chain.Finality{chain.FinalityConfirmed}
	settled, err = f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
}

func TestReconcile_FreshProcessingNotSwept(t *testing.T) {
	f := newReconcileFixture(t)
	tx := f.staleTransaction(t, 40)

	// Resubmit the transaction just now: inside the stale window.
	now := f.clk.T
	f.txs.mu.Lock()
	f.txs.txs[tx.ID].SubmittedAt = &now
	f.txs.mu.Unlock()

	settled, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.Equal(t, 0, f.chain.finalityCalls)
}

func TestReconcile_UsesRecordedLedgerRef(t *testing.T) {
	f := newReconcileFixture(t)
	tx := f.staleTransaction(t, 40)
	f.txs.mu.Lock()
	f.txs.txs[tx.ID].LedgerRef = "ref-xyz"
	f.txs.mu.Unlock()
	f.chain.finalities = []chain.Finality{chain.FinalityConfirmed}

	settled, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, "ref-xyz", f.chain.lastRef)
}
