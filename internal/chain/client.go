package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Finality is the ledger network's view of a submitted transfer.
type Finality string

const (
	FinalityPending   Finality = "pending"
	FinalityConfirmed Finality = "confirmed"
	FinalityRejected  Finality = "rejected"
	// FinalityNotFound means the network has no record of the transfer: the
	// submission never landed.
	FinalityNotFound Finality = "not_found"
)

// Transfer is the canonical transfer payload signed by the vault and
// submitted to the ledger network. TransactionID doubles as the idempotency
// key: resubmitting the same transaction never moves funds twice.
type Transfer struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SigningBytes returns the canonical byte encoding of the transfer, the exact
// bytes the vault signs.
func (t Transfer) SigningBytes() ([]byte, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	return payload, nil
}

// SignedTransfer is a transfer plus its detached ed25519 signature.
type SignedTransfer struct {
	Transfer  Transfer `json:"transfer"`
	Signature string   `json:"signature"`
}

// NewSignedTransfer wraps a transfer with its signature bytes.
func NewSignedTransfer(t Transfer, signature []byte) SignedTransfer {
	return SignedTransfer{
		Transfer:  t,
		Signature: base64.StdEncoding.EncodeToString(signature),
	}
}

// Encode returns the wire encoding submitted to the ledger network.
func (s SignedTransfer) Encode() ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode signed transfer: %w", err)
	}
	return payload, nil
}

// Client is the abstract ledger network contract: submit a signed transfer,
// obtain a reference, and query finality later. Implementations discriminate
// errors.ErrNetworkTimeout (outcome unknown, reconcile later) from
// errors.ErrNetworkRejected (explicit refusal).
type Client interface {
	SubmitSignedTransfer(ctx context.Context, raw []byte) (ref string, err error)
	GetTransactionFinality(ctx context.Context, ref string) (Finality, error)
}
