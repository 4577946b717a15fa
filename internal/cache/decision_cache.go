package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tapcore/internal/clock"
)

const decisionKeyPrefix = "authz:decision:"

// DefaultDecisionTTL keeps entries short-lived; spend counters move on every
// transaction, so staleness is bounded in seconds, not minutes.
const DefaultDecisionTTL = 5 * time.Second

// Store is the key-value surface the decision cache needs. *Client satisfies
// it; tests use an in-memory implementation.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// AuthorizationDecision is an ephemeral, cache-resident authorization outcome
// for one card and amount bucket. Amount is the exact amount the decision was
// computed for; a bucket spans a range of amounts, so Lookup only serves the
// entry to requests the computed outcome still holds for.
type AuthorizationDecision struct {
	CardID     uuid.UUID       `json:"card_id"`
	Bucket     string          `json:"bucket"`
	Amount     decimal.Decimal `json:"amount"`
	Allow      bool            `json:"allow"`
	Reason     string          `json:"reason,omitempty"`
	ComputedAt time.Time       `json:"computed_at"`
	ValidUntil time.Time       `json:"valid_until"`
}

// Covers reports whether the cached outcome holds for the requested amount.
// Every check an allow passed (status, per-transaction cap, headroom) also
// passes for any smaller amount, and an amount-driven denial also denies any
// larger amount. Status denials hold regardless of amount.
func (d *AuthorizationDecision) Covers(amount decimal.Decimal) bool {
	if d.Allow {
		return amount.LessThanOrEqual(d.Amount)
	}
	switch d.Reason {
	case "CARD_BLOCKED", "CARD_EXPIRED":
		return true
	default:
		return amount.GreaterThanOrEqual(d.Amount)
	}
}

// bucketBounds are the upper bounds of the fixed amount buckets. A closed set
// keeps Invalidate a single multi-key delete.
var bucketBounds = []int64{5, 10, 25, 50, 100, 250, 500, 1000}

// BucketFor maps an amount to its bucket label.
func BucketFor(amount decimal.Decimal) string {
	for _, bound := range bucketBounds {
		if amount.LessThanOrEqual(decimal.NewFromInt(bound)) {
			return fmt.Sprintf("b%d", bound)
		}
	}
	return "bmax"
}

// AllBuckets returns every bucket label.
func AllBuckets() []string {
	labels := make([]string, 0, len(bucketBounds)+1)
	for _, bound := range bucketBounds {
		labels = append(labels, fmt.Sprintf("b%d", bound))
	}
	return append(labels, "bmax")
}

// DecisionCache serves recent authorization outcomes keyed by card and amount
// bucket. Entries expire on a short TTL; any state-changing event for a card
// must call Invalidate synchronously before returning to the caller.
type DecisionCache struct {
	store Store
	ttl   time.Duration
	clock clock.Clock
}

// NewDecisionCache creates a decision cache with the given TTL.
func NewDecisionCache(store Store, ttl time.Duration, clk clock.Clock) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	return &DecisionCache{store: store, ttl: ttl, clock: clk}
}

func decisionKey(cardID uuid.UUID, bucket string) string {
	return decisionKeyPrefix + cardID.String() + ":" + bucket
}

// Lookup returns the cached decision for the card and amount, or a miss.
func (c *DecisionCache) Lookup(ctx context.Context, cardID uuid.UUID, amount decimal.Decimal) (*AuthorizationDecision, bool) {
	data, err := c.store.Get(ctx, decisionKey(cardID, BucketFor(amount)))
	if err != nil || data == nil {
		return nil, false
	}
	var decision AuthorizationDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		return nil, false
	}
	if c.clock.Now().After(decision.ValidUntil) {
		return nil, false
	}
	if !decision.Covers(amount) {
		return nil, false
	}
	return &decision, true
}

// Put stores a freshly computed decision under its card and bucket key.
func (c *DecisionCache) Put(ctx context.Context, decision *AuthorizationDecision) error {
	now := c.clock.Now()
	decision.ComputedAt = now
	decision.ValidUntil = now.Add(c.ttl)
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	return c.store.Set(ctx, decisionKey(decision.CardID, decision.Bucket), payload, c.ttl)
}

// Invalidate drops every cached decision for the card. Callers invoke it
// synchronously after any reservation, release or status change so a stale
// allow can never be served past a state-changing event.
func (c *DecisionCache) Invalidate(ctx context.Context, cardID uuid.UUID) error {
	buckets := AllBuckets()
	keys := make([]string, len(buckets))
	for i, bucket := range buckets {
		keys[i] = decisionKey(cardID, bucket)
	}
	return c.store.Delete(ctx, keys...)
}
