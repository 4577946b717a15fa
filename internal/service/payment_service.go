package service

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tapcore/internal/chain"
	"tapcore/internal/clock"
	"tapcore/internal/errors"
	"tapcore/internal/model"
	"tapcore/internal/notify"
	"tapcore/internal/repository"
	"tapcore/internal/vault"
)

// PaymentConfig tunes the executor's network budgets and fee.
type PaymentConfig struct {
	// SubmitTimeout bounds one ledger submission. Exceeding it means the
	// outcome is unknown, not failed.
	SubmitTimeout time.Duration
	// FinalityPollInterval and FinalityPollAttempts bound the synchronous
	// wait for confirmation before handing off to the reconciler.
	FinalityPollInterval time.Duration
	FinalityPollAttempts int
	// NetworkFee is the flat fee added to every transfer.
	NetworkFee decimal.Decimal
}

// PaymentService drives a payment transaction through its state machine:
// pending -> processing -> completed | failed, with cancelled reachable only
// from pending.
type PaymentService interface {
	AuthorizeAndPay(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal, merchantID uuid.UUID, terminalID string) (*model.Transaction, error)
	Cancel(ctx context.Context, transactionID uuid.UUID) (*model.Transaction, error)
	Refund(ctx context.Context, originalID uuid.UUID, amount decimal.Decimal, reason string) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
}

type paymentService struct {
	cards        repository.CardRepository
	merchants    repository.MerchantRepository
	transactions repository.TransactionRepository
	authz        AuthorizationService
	ledger       LimitLedger
	vault        *vault.Vault
	chain        chain.Client
	notifier     notify.Notifier
	clock        clock.Clock
	log          *logrus.Logger
	cfg          PaymentConfig
}

// NewPaymentService creates a payment service.
func NewPaymentService(
	cards repository.CardRepository,
	merchants repository.MerchantRepository,
	transactions repository.TransactionRepository,
	authz AuthorizationService,
	ledger LimitLedger,
	v *vault.Vault,
	chainClient chain.Client,
	notifier notify.Notifier,
	clk clock.Clock,
	log *logrus.Logger,
	cfg PaymentConfig,
) PaymentService {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.FinalityPollInterval <= 0 {
		cfg.FinalityPollInterval = time.Second
	}
	if cfg.FinalityPollAttempts <= 0 {
		cfg.FinalityPollAttempts = 5
	}
	return &paymentService{
		cards:        cards,
		merchants:    merchants,
		transactions: transactions,
		authz:        authz,
		ledger:       ledger,
		vault:        v,
		chain:        chainClient,
		notifier:     notifier,
		clock:        clk,
		log:          log,
		cfg:          cfg,
	}
}

// AuthorizeAndPay runs the whole payment flow for one tap. The returned
// transaction always reflects the persisted state; on ErrNetworkTimeout it is
// still processing and will be settled by reconciliation.
func (s *paymentService) AuthorizeAndPay(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal, merchantID uuid.UUID, terminalID string) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.ErrInvalidAmount
	}

	merchant, err := s.merchants.FindByID(ctx, merchantID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrMerchantNotFound
		}
		return nil, fmt.Errorf("load merchant: %w", err)
	}
	if !merchant.Active {
		return nil, errors.ErrMerchantNotFound
	}

	card, err := s.cards.FindByID(ctx, cardID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrCardNotFound
		}
		return nil, fmt.Errorf("load card: %w", err)
	}

	// The transaction row exists in pending before any external call.
	tx := &model.Transaction{
		CardID:     cardID,
		MerchantID: merchantID,
		TerminalID: terminalID,
		Amount:     amount,
		Fee:        s.cfg.NetworkFee,
		Total:      amount.Add(s.cfg.NetworkFee),
		Status:     model.TransactionStatusPending,
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	reservation, err := s.authz.Authorize(ctx, AuthorizationRequest{
		CardID:     cardID,
		Amount:     amount,
		MerchantID: merchantID,
		TerminalID: terminalID,
	})
	if err != nil {
		s.markFailed(ctx, tx, model.TransactionStatusPending, errors.ReasonCode(err), nil)
		return tx, err
	}

	submittedAt := s.clock.Now()
	if err := s.transactions.TransitionStatus(ctx, tx.ID, model.TransactionStatusPending, model.TransactionStatusProcessing,
		map[string]interface{}{"submitted_at": submittedAt}); err != nil {
		// Lost to a concurrent cancel; give the headroom back.
		_ = s.ledger.Release(ctx, reservation)
		if goerrors.Is(err, errors.ErrStorageConflict) {
			return tx, errors.ErrNotCancellable
		}
		return tx, fmt.Errorf("transition to processing: %w", err)
	}
	tx.Status = model.TransactionStatusProcessing
	tx.SubmittedAt = &submittedAt

	raw, err := s.buildSignedTransfer(ctx, tx, card.AccountID, merchant.ReceivingAddress)
	if err != nil {
		s.markFailed(ctx, tx, model.TransactionStatusProcessing, errors.ReasonCode(err), reservation)
		return tx, err
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	ref, err := s.chain.SubmitSignedTransfer(submitCtx, raw)
	cancel()
	if err != nil {
		if goerrors.Is(err, errors.ErrNetworkRejected) {
			s.markFailed(ctx, tx, model.TransactionStatusProcessing, errors.ReasonCode(err), reservation)
			return tx, err
		}
		// Outcome unknown: the transfer may still land on chain. Keep the
		// transaction processing and the reservation intact; reconciliation
		// settles it exactly once.
		s.log.WithError(err).WithField("transaction_id", tx.ID).
			Warn("ledger submission outcome unknown, leaving for reconciliation")
		return tx, errors.ErrNetworkTimeout
	}

	tx.LedgerRef = ref
	_ = s.transactions.Update(ctx, tx)

	return s.awaitFinality(ctx, tx, reservation)
}

// buildSignedTransfer assembles the transfer payload and signs it via the
// vault. The signing key never leaves the vault call.
func (s *paymentService) buildSignedTransfer(ctx context.Context, tx *model.Transaction, accountID uuid.UUID, receivingAddress string) ([]byte, error) {
	from, err := s.vault.SignerAddress(ctx, accountID)
	if err != nil {
		return nil, err
	}
	transfer := chain.Transfer{
		TransactionID: tx.ID,
		From:          from,
		To:            receivingAddress,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		CreatedAt:     s.clock.Now(),
	}
	payload, err := transfer.SigningBytes()
	if err != nil {
		return nil, err
	}
	signature, err := s.vault.Sign(ctx, accountID, payload)
	if err != nil {
		return nil, err
	}
	return chain.NewSignedTransfer(transfer, signature).Encode()
}

// awaitFinality polls the ledger a bounded number of times, then hands the
// transaction to the reconciler if still unconfirmed.
func (s *paymentService) awaitFinality(ctx context.Context, tx *model.Transaction, reservation *Reservation) (*model.Transaction, error) {
	for attempt := 0; attempt < s.cfg.FinalityPollAttempts; attempt++ {
		finality, err := s.chain.GetTransactionFinality(ctx, tx.LedgerRef)
		if err == nil {
			switch finality {
			case chain.FinalityConfirmed:
				s.markCompleted(ctx, tx)
				return tx, nil
			case chain.FinalityRejected:
				s.markFailed(ctx, tx, model.TransactionStatusProcessing, errors.ReasonCode(errors.ErrNetworkRejected), reservation)
				return tx, errors.ErrNetworkRejected
			}
		}
		select {
		case <-ctx.Done():
			return tx, errors.ErrNetworkTimeout
		case <-time.After(s.cfg.FinalityPollInterval):
		}
	}
	s.log.WithField("transaction_id", tx.ID).
		Warn("finality not reached within budget, leaving for reconciliation")
	return tx, errors.ErrNetworkTimeout
}

// markCompleted commits the terminal completed state. The ledger reservation
// stays: it was real spend.
func (s *paymentService) markCompleted(ctx context.Context, tx *model.Transaction) {
	err := s.transactions.TransitionStatus(ctx, tx.ID, model.TransactionStatusProcessing, model.TransactionStatusCompleted,
		map[string]interface{}{"ledger_ref": tx.LedgerRef, "fee": tx.Fee})
	if err != nil {
		s.log.WithError(err).WithField("transaction_id", tx.ID).Error("transition to completed")
		return
	}
	tx.Status = model.TransactionStatusCompleted
	go s.notifier.TransactionTerminal(context.Background(), notify.EventFromTransaction(tx, s.clock.Now()))
}

// markFailed commits the terminal failed state and releases the reservation:
// a failed transaction never permanently consumes limit headroom.
func (s *paymentService) markFailed(ctx context.Context, tx *model.Transaction, from model.TransactionStatus, reason string, reservation *Reservation) {
	err := s.transactions.TransitionStatus(ctx, tx.ID, from, model.TransactionStatusFailed,
		map[string]interface{}{"failure_reason": reason})
	if err != nil {
		s.log.WithError(err).WithField("transaction_id", tx.ID).Error("transition to failed")
		return
	}
	tx.Status = model.TransactionStatusFailed
	tx.FailureReason = reason
	if reservation != nil {
		if err := s.ledger.Release(ctx, reservation); err != nil {
			s.log.WithError(err).WithField("transaction_id", tx.ID).Error("release reservation")
		}
	}
	go s.notifier.TransactionTerminal(context.Background(), notify.EventFromTransaction(tx, s.clock.Now()))
}

// Cancel cancels a transaction still in pending. Once processing, the
// operation runs to a terminal outcome and cannot be cancelled.
func (s *paymentService) Cancel(ctx context.Context, transactionID uuid.UUID) (*model.Transaction, error) {
	tx, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if tx.Status != model.TransactionStatusPending {
		return tx, errors.ErrNotCancellable
	}
	if err := s.transactions.TransitionStatus(ctx, tx.ID, model.TransactionStatusPending, model.TransactionStatusCancelled, nil); err != nil {
		if goerrors.Is(err, errors.ErrStorageConflict) {
			return tx, errors.ErrNotCancellable
		}
		return tx, fmt.Errorf("transition to cancelled: %w", err)
	}
	tx.Status = model.TransactionStatusCancelled
	go s.notifier.TransactionTerminal(context.Background(), notify.EventFromTransaction(tx, s.clock.Now()))
	return tx, nil
}

// Refund records a compensating transaction referencing the original,
// settled from the merchant side. It deliberately does not restore the
// original card's limit headroom; headroom returns only through limit resets.
func (s *paymentService) Refund(ctx context.Context, originalID uuid.UUID, amount decimal.Decimal, reason string) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.ErrInvalidAmount
	}
	original, err := s.transactions.FindByID(ctx, originalID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if original.Status != model.TransactionStatusCompleted || original.IsRefund() {
		return nil, errors.ErrTransactionNotFound
	}
	if amount.GreaterThan(original.Amount) {
		return nil, errors.ErrInvalidAmount
	}

	now := s.clock.Now()
	refund := &model.Transaction{
		CardID:                original.CardID,
		MerchantID:            original.MerchantID,
		TerminalID:            original.TerminalID,
		Amount:                amount,
		Fee:                   decimal.Zero,
		Total:                 amount,
		Status:                model.TransactionStatusPending,
		OriginalTransactionID: &original.ID,
		RefundedAt:            &now,
		RefundAmount:          &amount,
		RefundReason:          reason,
	}
	if err := s.transactions.Create(ctx, refund); err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}

	// Fund movement happens on the merchant settlement side; the core records
	// the compensating transaction and completes it once booked.
	if err := s.transactions.TransitionStatus(ctx, refund.ID, model.TransactionStatusPending, model.TransactionStatusCompleted, nil); err != nil {
		return refund, fmt.Errorf("complete refund: %w", err)
	}
	refund.Status = model.TransactionStatusCompleted
	go s.notifier.TransactionTerminal(context.Background(), notify.EventFromTransaction(refund, s.clock.Now()))
	return refund, nil
}

// GetTransaction returns a transaction by id.
func (s *paymentService) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	tx, err := s.transactions.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}
