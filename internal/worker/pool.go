package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/rues-api/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("runner_id", w.runnerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.runnerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case t := <-w.tasks:
			err := w.processTask(ctx, t)
			w.settle(workerName, t, err)
		}
	}
}

// settle acknowledges the delivery behind an event task. Poller tasks have
// nothing to acknowledge.
func (w *Worker) settle(workerName string, t *task, err error) {
	if err != nil {
		w.logger.Error("Transaction processing failed",
			slog.String("worker_name", workerName),
			slog.Int64("transaction_id", t.transactionID),
			slog.String("error", err.Error()),
		)
	}

	if t.delivery == nil {
		return
	}

	if err != nil {
		requeue := shouldRequeue(err)
		if nackErr := t.delivery.Nack(false, requeue); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.Int64("transaction_id", t.transactionID),
				slog.String("error", nackErr.Error()),
			)
		} else {
			w.logger.Info("Message NACKed",
				slog.String("worker_name", workerName),
				slog.Int64("transaction_id", t.transactionID),
				slog.Bool("requeue", requeue),
			)
		}
		return
	}

	if ackErr := t.delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.Int64("transaction_id", t.transactionID),
			slog.String("error", ackErr.Error()),
		)
	}
}

// shouldRequeue reports whether a failed delivery should go back on the queue.
// Only transient errors are retried.
func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, domain.ErrInvalidMessage) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
