package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tapcore/internal/cache"
	"tapcore/internal/clock"
	"tapcore/internal/errors"
	"tapcore/internal/model"
	"tapcore/internal/repository"
)

// AuthorizationRequest carries the inputs for one authorization check.
type AuthorizationRequest struct {
	CardID     uuid.UUID
	Amount     decimal.Decimal
	MerchantID uuid.UUID
	TerminalID string
}

// AuthorizationService decides whether a tap-to-pay request is allowed. On
// allow it returns the ledger reservation backing the decision; the caller
// must release it if the transaction is abandoned before submission.
type AuthorizationService interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (*Reservation, error)
	// Prewarm populates the decision cache for a set of cards and amounts
	// using the same cold computation as a live check, minus the reservation.
	// An empty card set warms every active card.
	Prewarm(ctx context.Context, cardIDs []uuid.UUID, amounts []decimal.Decimal)
}

type authorizationService struct {
	cards     repository.CardRepository
	ledger    LimitLedger
	decisions *cache.DecisionCache
	logRepo   repository.AuthorizationLogRepository
	clock     clock.Clock
	log       *logrus.Logger
	// Channel for async decision audit logging
	logChannel chan model.AuthorizationLog
}

// NewAuthorizationService creates an authorization service and starts its
// async audit log worker.
func NewAuthorizationService(
	cards repository.CardRepository,
	ledger LimitLedger,
	decisions *cache.DecisionCache,
	logRepo repository.AuthorizationLogRepository,
	clk clock.Clock,
	log *logrus.Logger,
) AuthorizationService {
	s := &authorizationService{
		cards:      cards,
		ledger:     ledger,
		decisions:  decisions,
		logRepo:    logRepo,
		clock:      clk,
		log:        log,
		logChannel: make(chan model.AuthorizationLog, 100),
	}

	go s.logWorker(context.Background())

	return s
}

// logWorker batches decision audit records, flushing on size or a ticker.
func (s *authorizationService) logWorker(ctx context.Context) {
	batch := make([]model.AuthorizationLog, 0, 10)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-s.logChannel:
			if !ok {
				if len(batch) > 0 {
					_ = s.logRepo.CreateBatch(ctx, batch)
				}
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 10 {
				_ = s.logRepo.CreateBatch(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				_ = s.logRepo.CreateBatch(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			return
		}
	}
}

// Authorize runs the decision state machine: cache lookup, then on a miss the
// status check, single-transaction cap and ledger reservation, cheapest and
// most discriminating checks first. Cached denials short-circuit without
// touching the ledger; cached allows still reserve, because headroom must be
// consumed for real on every payment.
func (s *authorizationService) Authorize(ctx context.Context, req AuthorizationRequest) (*Reservation, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.ErrInvalidAmount
	}

	if cached, hit := s.decisions.Lookup(ctx, req.CardID, req.Amount); hit {
		if cached.Allow {
			reservation, err := s.ledger.Reserve(ctx, req.CardID, req.Amount)
			if err != nil {
				s.cacheDenial(ctx, req, err)
				s.audit(ctx, req, model.DecisionDeny, errors.ReasonCode(err), true)
				return nil, err
			}
			s.audit(ctx, req, model.DecisionAllow, "", true)
			return reservation, nil
		}
		if denial, known := errorForReason(cached.Reason); known {
			s.audit(ctx, req, model.DecisionDeny, cached.Reason, true)
			return nil, denial
		}
		// A reason code this build does not recognize is not trusted;
		// recompute from card state instead of guessing at the denial.
	}

	card, err := s.cards.FindByID(ctx, req.CardID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrCardNotFound
		}
		return nil, err
	}

	if err := s.policyCheck(card, req.Amount); err != nil {
		s.cacheDenial(ctx, req, err)
		s.audit(ctx, req, model.DecisionDeny, errors.ReasonCode(err), false)
		return nil, err
	}

	reservation, err := s.ledger.Reserve(ctx, req.CardID, req.Amount)
	if err != nil {
		s.cacheDenial(ctx, req, err)
		s.audit(ctx, req, model.DecisionDeny, errors.ReasonCode(err), false)
		return nil, err
	}

	_ = s.decisions.Put(ctx, &cache.AuthorizationDecision{
		CardID: req.CardID,
		Bucket: cache.BucketFor(req.Amount),
		Amount: req.Amount,
		Allow:  true,
	})
	s.audit(ctx, req, model.DecisionAllow, "", false)
	return reservation, nil
}

// policyCheck applies the pre-ledger policy order: lifecycle status first,
// then the single-transaction cap. The ledger re-checks status under its own
// lock; this check exists to fail fast and to be cacheable.
func (s *authorizationService) policyCheck(card *model.Card, amount decimal.Decimal) error {
	now := s.clock.Now()
	if card.Status == model.CardStatusBlocked {
		return errors.ErrCardBlocked
	}
	if card.ExpiredAt(now) {
		return errors.ErrCardExpired
	}
	if amount.GreaterThan(card.SingleTransactionLimit) {
		return errors.ErrAmountExceedsSingleLimit
	}
	return nil
}

// cacheDenial stores a policy denial for the fast path. Transient storage or
// network errors are never cached.
func (s *authorizationService) cacheDenial(ctx context.Context, req AuthorizationRequest, err error) {
	if !errors.PolicyDenied(err) {
		return
	}
	_ = s.decisions.Put(ctx, &cache.AuthorizationDecision{
		CardID: req.CardID,
		Bucket: cache.BucketFor(req.Amount),
		Amount: req.Amount,
		Allow:  false,
		Reason: errors.ReasonCode(err),
	})
}

// Prewarm computes and caches decisions for the given cards and amounts via
// the probe path, which shares the ledger's rollover logic but consumes no
// headroom. An empty card set warms every active card.
func (s *authorizationService) Prewarm(ctx context.Context, cardIDs []uuid.UUID, amounts []decimal.Decimal) {
	var cards []model.Card
	if len(cardIDs) == 0 {
		active, err := s.cards.ListByStatus(ctx, model.CardStatusActive)
		if err != nil {
			s.log.WithError(err).Warn("list active cards for prewarm")
			return
		}
		cards = active
	} else {
		for _, cardID := range cardIDs {
			card, err := s.cards.FindByID(ctx, cardID)
			if err != nil {
				continue
			}
			cards = append(cards, *card)
		}
	}

	for i := range cards {
		card := &cards[i]
		for _, amount := range amounts {
			if amount.LessThanOrEqual(decimal.Zero) {
				continue
			}
			if _, hit := s.decisions.Lookup(ctx, card.ID, amount); hit {
				continue
			}
			req := AuthorizationRequest{CardID: card.ID, Amount: amount}
			if err := s.policyCheck(card, amount); err != nil {
				s.cacheDenial(ctx, req, err)
				continue
			}
			if err := s.ledger.Probe(ctx, card.ID, amount); err != nil {
				s.cacheDenial(ctx, req, err)
				continue
			}
			_ = s.decisions.Put(ctx, &cache.AuthorizationDecision{
				CardID: card.ID,
				Bucket: cache.BucketFor(amount),
				Amount: amount,
				Allow:  true,
			})
		}
	}
}

// audit queues a decision record for async persistence, falling back to a
// synchronous write when the channel is full.
func (s *authorizationService) audit(ctx context.Context, req AuthorizationRequest, outcome model.AuthorizationDecisionOutcome, reason string, fromCache bool) {
	entry := model.AuthorizationLog{
		CardID:     req.CardID,
		MerchantID: req.MerchantID,
		TerminalID: req.TerminalID,
		Amount:     req.Amount,
		Decision:   outcome,
		Reason:     reason,
		FromCache:  fromCache,
	}

	select {
	case s.logChannel <- entry:
	default:
		_ = s.logRepo.Create(ctx, &entry)
	}
}

// errorForReason maps a cached reason code back to its sentinel error. known
// is false for codes this build does not recognize; those entries are treated
// as a miss.
func errorForReason(code string) (denial error, known bool) {
	switch code {
	case "CARD_BLOCKED":
		return errors.ErrCardBlocked, true
	case "CARD_EXPIRED":
		return errors.ErrCardExpired, true
	case "AMOUNT_EXCEEDS_SINGLE_LIMIT":
		return errors.ErrAmountExceedsSingleLimit, true
	case "DAILY_LIMIT_EXCEEDED":
		return errors.ErrDailyLimitExceeded, true
	case "MONTHLY_LIMIT_EXCEEDED":
		return errors.ErrMonthlyLimitExceeded, true
	default:
		return nil, false
	}
}
