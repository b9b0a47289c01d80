package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/rues-api/internal/api/model"
	"github.com/cuongbtq/rues-api/internal/metrics"
)

// EventTransactionCreated is emitted after a transaction is enqueued
const EventTransactionCreated = "transaction.created"

// TransactionEvent is the message body published for queue changes
type TransactionEvent struct {
	Event         string `json:"event"`
	TransactionID int64  `json:"transaction_id"`
	NIT           string `json:"nit"`
}

// MessagePublisher is the broker operation the publisher needs
type MessagePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// TransactionPublisher sends transaction events to the message broker
type TransactionPublisher struct {
	client MessagePublisher
	logger *slog.Logger
}

// NewTransactionPublisher creates a publisher on top of client
func NewTransactionPublisher(client MessagePublisher, logger *slog.Logger) *TransactionPublisher {
	return &TransactionPublisher{
		client: client,
		logger: logger,
	}
}

// TransactionCreated publishes a transaction.created event
func (p *TransactionPublisher) TransactionCreated(ctx context.Context, txn *model.Transaction) error {
	body, err := json.Marshal(TransactionEvent{
		Event:         EventTransactionCreated,
		TransactionID: txn.ID,
		NIT:           txn.NIT,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return fmt.Errorf("failed to publish %s event: %w", EventTransactionCreated, err)
	}

	metrics.EventsPublishedTotal.WithLabelValues(metrics.ResultOK).Inc()
	p.logger.Debug("Transaction event published",
		slog.Int64("transaction_id", txn.ID),
		slog.String("event", EventTransactionCreated),
	)

	return nil
}

// NoopPublisher discards events; used when the broker is disabled
type NoopPublisher struct{}

func (NoopPublisher) TransactionCreated(context.Context, *model.Transaction) error {
	return nil
}
