package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apidomain "github.com/cuongbtq/rues-api/internal/api/domain"
	"github.com/cuongbtq/rues-api/internal/metrics"
)

// startPoller periodically claims pending transactions so rows whose event
// was never published or was lost still get processed
func (w *Worker) startPoller(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("Poller started",
		slog.Duration("interval", w.pollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Poller stopped - context canceled")
			return
		case <-w.stopChan:
			w.logger.Info("Poller stopped - stopChan closed")
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce claims up to one transaction per pool slot
func (w *Worker) pollOnce(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		txn, err := w.store.ClaimNext(ctx, &w.runnerID)
		if err != nil {
			if !errors.Is(err, apidomain.ErrNoPendingTransaction) {
				w.logger.Error("Failed to claim next transaction", slog.Any("error", err))
			}
			return
		}

		metrics.TransactionsClaimedTotal.WithLabelValues(metrics.SourcePoller).Inc()

		select {
		case w.tasks <- &task{transactionID: txn.ID, claimed: txn}:
		case <-ctx.Done():
			w.release(txn.ID)
			return
		case <-w.stopChan:
			w.release(txn.ID)
			return
		}
	}
}

// release puts a claimed but unprocessed transaction back to PENDIENTE
func (w *Worker) release(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := w.store.UpdateStatus(ctx, apidomain.Selector{ID: id}, apidomain.StatusUpdate{Status: apidomain.StatusPending})
	if err != nil {
		w.logger.Error("Failed to release claimed transaction",
			slog.Int64("transaction_id", id),
			slog.Any("error", err),
		)
		return
	}

	w.logger.Info("Released claimed transaction",
		slog.Int64("transaction_id", id),
	)
}
