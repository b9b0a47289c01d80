package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/rues-api/internal/api/events"
	"github.com/cuongbtq/rues-api/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets up RabbitMQ consumer with QoS and returns delivery channel
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	prefetch := w.prefetchCount
	if prefetch <= 0 {
		prefetch = w.concurrency
	}

	if err := w.source.Qos(prefetch); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.source.Consume(w.runnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.runnerID),
		slog.Int("prefetch_count", prefetch),
	)

	return deliveries, nil
}

// parseEvent extracts the transaction id from a transaction.created message
func parseEvent(body []byte) (int64, error) {
	var event events.TransactionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	if event.Event != events.EventTransactionCreated {
		return 0, fmt.Errorf("%w: unexpected event %q", domain.ErrInvalidMessage, event.Event)
	}

	if event.TransactionID <= 0 {
		return 0, fmt.Errorf("%w: missing transaction_id", domain.ErrInvalidMessage)
	}

	return event.TransactionID, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches transactions to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("runner_id", w.runnerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			id, err := parseEvent(delivery.Body)
			if err != nil {
				w.logger.Error("Discarding malformed message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages are never requeued
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			d := delivery
			select {
			case w.tasks <- &task{transactionID: id, delivery: &d}:
				w.logger.Debug("Transaction dispatched to worker pool",
					slog.Int64("transaction_id", id),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.requeueOnShutdown(&d, id)
				return
			case <-w.stopChan:
				w.requeueOnShutdown(&d, id)
				return
			}
		}
	}
}

func (w *Worker) requeueOnShutdown(delivery *amqp.Delivery, id int64) {
	w.logger.Info("Message dispatcher stopped while dispatching",
		slog.Int64("transaction_id", id),
	)
	if nackErr := delivery.Nack(false, true); nackErr != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.String("error", nackErr.Error()),
		)
	}
}
