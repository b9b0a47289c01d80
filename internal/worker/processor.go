package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	apidomain "github.com/cuongbtq/rues-api/internal/api/domain"
	"github.com/cuongbtq/rues-api/internal/api/model"
	"github.com/cuongbtq/rues-api/internal/metrics"
	"github.com/cuongbtq/rues-api/internal/worker/domain"
)

// Processor turns a claimed transaction's payload into a result document
type Processor interface {
	Process(ctx context.Context, txn *model.Transaction) (json.RawMessage, error)
}

// PayloadProcessor is the placeholder Processor the worker service runs until a
// real integration is plugged in. It validates that payload_in is a JSON
// object carrying the transaction nit and summarizes its fields.
type PayloadProcessor struct {
	now func() time.Time
}

func NewPayloadProcessor() *PayloadProcessor {
	return &PayloadProcessor{now: time.Now}
}

type processResult struct {
	NIT         string   `json:"nit"`
	Fields      []string `json:"fields"`
	ProcessedAt string   `json:"processed_at"`
}

func (p *PayloadProcessor) Process(ctx context.Context, txn *model.Transaction) (json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(txn.PayloadIn), &payload); err != nil || payload == nil {
		return nil, fmt.Errorf("%w: payload_in is not a JSON object", domain.ErrInvalidPayload)
	}

	var nit string
	if raw, ok := payload["nit"]; !ok || json.Unmarshal(raw, &nit) != nil || nit != txn.NIT {
		return nil, fmt.Errorf("%w: payload nit does not match transaction", domain.ErrInvalidPayload)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(payload))
	for k := range payload {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	return json.Marshal(processResult{
		NIT:         nit,
		Fields:      fields,
		ProcessedAt: p.now().UTC().Format(time.RFC3339),
	})
}

// processTask claims (for event tasks) and processes one transaction, then
// records PROCESADO or ERROR on it
func (w *Worker) processTask(ctx context.Context, t *task) error {
	txn := t.claimed
	if txn == nil {
		claimed, err := w.store.ClaimTransaction(ctx, t.transactionID, w.runnerID)
		if err != nil {
			if errors.Is(err, apidomain.ErrAlreadyClaimed) {
				// another runner or the poller got it first
				w.logger.Info("Transaction already claimed, skipping",
					slog.Int64("transaction_id", t.transactionID),
				)
				return nil
			}
			return domain.NewRetryableError(fmt.Errorf("failed to claim transaction: %w", err))
		}
		metrics.TransactionsClaimedTotal.WithLabelValues(metrics.SourceEvent).Inc()
		txn = claimed
	}

	w.logger.Info("Processing transaction",
		slog.Int64("transaction_id", txn.ID),
		slog.String("nit", txn.NIT),
		slog.String("runner_id", w.runnerID),
	)

	start := time.Now()
	result, procErr := w.runProcessor(ctx, txn)

	// shutdown interrupted the work; hand the row back instead of failing it
	if procErr != nil && errors.Is(procErr, context.Canceled) && ctx.Err() != nil {
		w.release(txn.ID)
		if t.delivery != nil {
			return domain.NewRetryableError(fmt.Errorf("processing interrupted by shutdown: %w", procErr))
		}
		return nil
	}

	update := apidomain.StatusUpdate{Status: apidomain.StatusProcessed}
	outcome := metrics.OutcomeProcessed
	if procErr != nil {
		code, msg := classify(procErr)
		update = apidomain.StatusUpdate{
			Status:    apidomain.StatusError,
			ErrorCode: &code,
			ErrorMsg:  &msg,
		}
		outcome = metrics.OutcomeError
	} else {
		s := string(result)
		update.ResultPayload = &s
	}
	metrics.ProcessingDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	// recorded even when ctx is cancelled so the row does not stay PROCESANDO
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := w.store.UpdateStatus(updateCtx, apidomain.Selector{ID: txn.ID}, update); err != nil {
		return fmt.Errorf("failed to record transaction status %s: %w", update.Status, err)
	}

	w.logger.Info("Transaction finished",
		slog.Int64("transaction_id", txn.ID),
		slog.String("status", update.Status),
		slog.Duration("duration", time.Since(start)),
	)

	if procErr != nil && errors.Is(procErr, domain.ErrInvalidPayload) {
		return procErr
	}
	return nil
}

// runProcessor applies the processing timeout
func (w *Worker) runProcessor(ctx context.Context, txn *model.Transaction) (json.RawMessage, error) {
	if w.processingTimeout <= 0 {
		return w.processor.Process(ctx, txn)
	}

	procCtx, cancel := context.WithTimeout(ctx, w.processingTimeout)
	defer cancel()

	result, err := w.processor.Process(procCtx, txn)
	if err == nil && procCtx.Err() != nil {
		return nil, procCtx.Err()
	}
	return result, err
}

// classify maps a processing error to the code and message stored on the transaction
func classify(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		return domain.CodeInvalidPayload, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return domain.CodeProcessingTimeout, "processing exceeded the configured timeout"
	default:
		return domain.CodeProcessingFailed, err.Error()
	}
}
