package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"tapcore/internal/model"
)

// Event describes a transaction that reached a terminal state. Delivery is
// fire-and-forget; the payment flow never waits on it.
type Event struct {
	TransactionID string    `json:"transaction_id"`
	CardID        string    `json:"card_id"`
	MerchantID    string    `json:"merchant_id"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	LedgerRef     string    `json:"ledger_ref,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventFromTransaction builds the outbound event for a transaction. The
// caller supplies occurredAt from its injected clock.
func EventFromTransaction(tx *model.Transaction, occurredAt time.Time) Event {
	return Event{
		TransactionID: tx.ID.String(),
		CardID:        tx.CardID.String(),
		MerchantID:    tx.MerchantID.String(),
		Status:        string(tx.Status),
		Amount:        tx.Amount.String(),
		LedgerRef:     tx.LedgerRef,
		FailureReason: tx.FailureReason,
		OccurredAt:    occurredAt.UTC(),
	}
}

// Notifier publishes terminal transaction events to interested collaborators.
type Notifier interface {
	TransactionTerminal(ctx context.Context, event Event)
}

// AMQPNotifier publishes events to a RabbitMQ topic exchange. Publish errors
// are logged and dropped; notification delivery is best effort.
type AMQPNotifier struct {
	channel  *amqp.Channel
	exchange string
	log      *logrus.Logger
}

// NewAMQPNotifier connects to RabbitMQ and declares the exchange.
func NewAMQPNotifier(url, exchange string, log *logrus.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPNotifier{channel: ch, exchange: exchange, log: log}, nil
}

// TransactionTerminal publishes the event with routing key
// "transaction.<status>".
func (n *AMQPNotifier) TransactionTerminal(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.WithError(err).Warn("marshal notification event")
		return
	}
	err = n.channel.PublishWithContext(ctx, n.exchange, "transaction."+event.Status, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
		Timestamp:   event.OccurredAt,
	})
	if err != nil {
		n.log.WithError(err).WithField("transaction_id", event.TransactionID).
			Warn("publish notification event")
	}
}

// NoopNotifier drops every event. Used when no broker is configured.
type NoopNotifier struct{}

// TransactionTerminal does nothing.
func (NoopNotifier) TransactionTerminal(ctx context.Context, event Event) {}
