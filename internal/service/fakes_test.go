package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tapcore/internal/chain"
	"tapcore/internal/clock"
	"tapcore/internal/errors"
	"tapcore/internal/model"
	"tapcore/internal/repository"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testCard returns an active card with the standard test limits: 50 per
// transaction, 100 per day, 1000 per month.
func testCard(clk *clock.Fixed) *model.Card {
	return &model.Card{
		ID:                     uuid.New(),
		AccountID:              uuid.New(),
		Status:                 model.CardStatusActive,
		SingleTransactionLimit: decimal.NewFromInt(50),
		DailyLimit:             decimal.NewFromInt(100),
		MonthlyLimit:           decimal.NewFromInt(1000),
		DailySpent:             decimal.Zero,
		MonthlySpent:           decimal.Zero,
		LastResetDate:          clk.T,
		ExpiryDate:             clk.T.AddDate(1, 0, 0),
	}
}

// fakeCardRepo is an in-memory CardRepository with the same compare-and-set
// semantics as the MySQL implementation: an update commits only when the
// observed counters still match the stored row.
type fakeCardRepo struct {
	mu    sync.Mutex
	cards map[uuid.UUID]*model.Card
	// conflictsLeft injects that many artificial lost races before CAS
	// updates start succeeding again.
	conflictsLeft int
	casCalls      int
}

func newFakeCardRepo() *fakeCardRepo {
	return &fakeCardRepo{cards: make(map[uuid.UUID]*model.Card)}
}

func (r *fakeCardRepo) Create(ctx context.Context, card *model.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	stored := *card
	r.cards[card.ID] = &stored
	return nil
}

func (r *fakeCardRepo) Update(ctx context.Context, card *model.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *card
	r.cards[card.ID] = &stored
	return nil
}

func (r *fakeCardRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *card
	return &copied, nil
}

func (r *fakeCardRepo) ListByStatus(ctx context.Context, status model.CardStatus) ([]model.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Card
	for _, card := range r.cards {
		if card.Status == status {
			out = append(out, *card)
		}
	}
	return out, nil
}

func (r *fakeCardRepo) CompareAndSetCounters(ctx context.Context, id uuid.UUID, observed, next repository.CounterState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		return errors.ErrStorageConflict
	}
	card, ok := r.cards[id]
	if !ok {
		return errors.ErrStorageConflict
	}
	if !card.DailySpent.Equal(observed.DailySpent) ||
		!card.MonthlySpent.Equal(observed.MonthlySpent) ||
		!card.LastResetDate.Equal(observed.LastResetDate) {
		return errors.ErrStorageConflict
	}
	card.DailySpent = next.DailySpent
	card.MonthlySpent = next.MonthlySpent
	card.LastResetDate = next.LastResetDate
	return nil
}

func (r *fakeCardRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.CardStatus, blockedAt *time.Time, blockedReason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	card.Status = status
	card.BlockedAt = blockedAt
	card.BlockedReason = blockedReason
	return nil
}

// get returns the stored card without copy semantics, for assertions.
func (r *fakeCardRepo) get(id uuid.UUID) model.Card {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.cards[id]
}

// fakeTxRepo is an in-memory TransactionRepository with guarded status
// transitions.
type fakeTxRepo struct {
	mu  sync.Mutex
	txs map[uuid.UUID]*model.Transaction
}

func newFakeTxRepo() *fakeTxRepo {
	return &fakeTxRepo{txs: make(map[uuid.UUID]*model.Transaction)}
}

func (r *fakeTxRepo) Create(ctx context.Context, tx *model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	stored := *tx
	r.txs[tx.ID] = &stored
	return nil
}

func (r *fakeTxRepo) Update(ctx context.Context, tx *model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *tx
	r.txs[tx.ID] = &stored
	return nil
}

func (r *fakeTxRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *tx
	return &copied, nil
}

func (r *fakeTxRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.TransactionStatus, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status != from {
		return errors.ErrStorageConflict
	}
	tx.Status = to
	for col, value := range updates {
		switch col {
		case "submitted_at":
			if at, ok := value.(time.Time); ok {
				tx.SubmittedAt = &at
			}
		case "ledger_ref":
			tx.LedgerRef = value.(string)
		case "failure_reason":
			tx.FailureReason = value.(string)
		case "fee":
			tx.Fee = value.(decimal.Decimal)
		}
	}
	return nil
}

func (r *fakeTxRepo) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Transaction
	for _, tx := range r.txs {
		if tx.Status != model.TransactionStatusProcessing || tx.SubmittedAt == nil {
			continue
		}
		if tx.SubmittedAt.Before(cutoff) {
			out = append(out, *tx)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeTxRepo) get(id uuid.UUID) model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.txs[id]
}

// fakeMerchantRepo is an in-memory MerchantRepository.
type fakeMerchantRepo struct {
	mu        sync.Mutex
	merchants map[uuid.UUID]*model.Merchant
}

func newFakeMerchantRepo() *fakeMerchantRepo {
	return &fakeMerchantRepo{merchants: make(map[uuid.UUID]*model.Merchant)}
}

func (r *fakeMerchantRepo) Create(ctx context.Context, merchant *model.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if merchant.ID == uuid.Nil {
		merchant.ID = uuid.New()
	}
	stored := *merchant
	r.merchants[merchant.ID] = &stored
	return nil
}

func (r *fakeMerchantRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Merchant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merchant, ok := r.merchants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *merchant
	return &copied, nil
}

// fakeLogRepo collects authorization audit records.
type fakeLogRepo struct {
	mu      sync.Mutex
	entries []model.AuthorizationLog
}

func (r *fakeLogRepo) Create(ctx context.Context, log *model.AuthorizationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *log)
	return nil
}

func (r *fakeLogRepo) CreateBatch(ctx context.Context, logs []model.AuthorizationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, logs...)
	return nil
}

// fakeSecretRepo is an in-memory WalletSecretRepository backing the vault.
type fakeSecretRepo struct {
	mu      sync.Mutex
	secrets map[uuid.UUID]*model.WalletSecret
}

func newFakeSecretRepo() *fakeSecretRepo {
	return &fakeSecretRepo{secrets: make(map[uuid.UUID]*model.WalletSecret)}
}

func (r *fakeSecretRepo) Create(ctx context.Context, secret *model.WalletSecret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if secret.ID == uuid.Nil {
		secret.ID = uuid.New()
	}
	stored := *secret
	r.secrets[secret.AccountID] = &stored
	return nil
}

func (r *fakeSecretRepo) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*model.WalletSecret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	secret, ok := r.secrets[accountID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *secret
	return &copied, nil
}

// memStore is an in-memory cache.Store.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (s *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

// countingInvalidator records decision invalidations per card.
type countingInvalidator struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func newCountingInvalidator() *countingInvalidator {
	return &countingInvalidator{calls: make(map[uuid.UUID]int)}
}

func (c *countingInvalidator) Invalidate(ctx context.Context, cardID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[cardID]++
	return nil
}

func (c *countingInvalidator) count(cardID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[cardID]
}

// recordingLedger wraps a LimitLedger and counts calls.
type recordingLedger struct {
	inner        LimitLedger
	mu           sync.Mutex
	reserveCalls int
	releaseCalls int
	probeCalls   int
}

func (l *recordingLedger) Reserve(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal) (*Reservation, error) {
	l.mu.Lock()
	l.reserveCalls++
	l.mu.Unlock()
	return l.inner.Reserve(ctx, cardID, amount)
}

func (l *recordingLedger) Release(ctx context.Context, res *Reservation) error {
	l.mu.Lock()
	l.releaseCalls++
	l.mu.Unlock()
	return l.inner.Release(ctx, res)
}

func (l *recordingLedger) Probe(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal) error {
	l.mu.Lock()
	l.probeCalls++
	l.mu.Unlock()
	return l.inner.Probe(ctx, cardID, amount)
}

func (l *recordingLedger) ResetLimits(ctx context.Context, cardID uuid.UUID) error {
	return l.inner.ResetLimits(ctx, cardID)
}

// fakeChainClient is a scripted ledger network client.
type fakeChainClient struct {
	mu            sync.Mutex
	submitRef     string
	submitErr     error
	finalities    []chain.Finality
	finalityErr   error
	submitCalls   int
	finalityCalls int
	lastSubmitted []byte
	lastRef       string
}

func (c *fakeChainClient) SubmitSignedTransfer(ctx context.Context, raw []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitCalls++
	c.lastSubmitted = append([]byte(nil), raw...)
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return c.submitRef, nil
}

func (c *fakeChainClient) GetTransactionFinality(ctx context.Context, ref string) (chain.Finality, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalityCalls++
	c.lastRef = ref
	if c.finalityErr != nil {
		return "", c.finalityErr
	}
	if len(c.finalities) == 0 {
		return chain.FinalityPending, nil
	}
	next := c.finalities[0]
	if len(c.finalities) > 1 {
		c.finalities = c.finalities[1:]
	}
	return next, nil
}
