package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/rues-api/internal/api/domain"
	"github.com/cuongbtq/rues-api/internal/api/dto"
	"github.com/cuongbtq/rues-api/internal/metrics"
	"github.com/gin-gonic/gin"
)

// TransactionHandler handles transaction queue HTTP requests
type TransactionHandler struct {
	logger         *slog.Logger
	store          TransactionStore
	publisher      EventPublisher
	publishTimeout time.Duration
}

// NewTransactionHandler creates a new TransactionHandler instance
func NewTransactionHandler(deps *Dependencies) *TransactionHandler {
	timeout := deps.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	return &TransactionHandler{
		logger:         deps.Logger,
		store:          deps.Store,
		publisher:      deps.Publisher,
		publishTimeout: timeout,
	}
}

// writeRequestError maps parse failures to 400 or 422
func (h *TransactionHandler) writeRequestError(c *gin.Context, err error) {
	var vErr *dto.ValidationError
	if errors.As(err, &vErr) {
		errorJSON(c, http.StatusUnprocessableEntity, vErr.Message)
		return
	}

	errorJSON(c, http.StatusBadRequest, dto.ErrMalformedJSON.Error())
}

// ProcessData handles POST /api/v1/process-data
// Enqueues the submitted document as a PENDIENTE transaction
func (h *TransactionHandler) ProcessData(c *gin.Context) {
	body, ok := readJSONBody(c)
	if !ok {
		return
	}

	req, err := dto.ParseProcessDataRequest(body)
	if err != nil {
		h.logger.Debug("Rejected process-data request", slog.String("error", err.Error()))
		h.writeRequestError(c, err)
		return
	}

	txn, err := h.store.CreateTransaction(c.Request.Context(), domain.NewTransaction{
		NIT:            req.NIT,
		CompanyName:    req.Name,
		Payload:        req.Payload,
		IdempotencyKey: optionalHeader(c, "Idempotency-Key"),
	})
	if err != nil {
		h.logger.Error("Failed to create transaction",
			slog.String("nit", req.NIT),
			slog.Any("error", err),
		)
		internalError(c)
		return
	}

	metrics.TransactionsCreatedTotal.Inc()

	// the row is committed; a lost notification is recovered by the worker poller
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.publishTimeout)
	defer cancel()
	if err := h.publisher.TransactionCreated(ctx, txn); err != nil {
		h.logger.Warn("Failed to publish transaction event",
			slog.Int64("transaction_id", txn.ID),
			slog.Any("error", err),
		)
	}

	c.JSON(http.StatusCreated, dto.FromTransaction(txn))
}

// UpdateStatus handles POST /api/v1/update-status
// Sets the status and optional result fields of a transaction selected by id or nit
func (h *TransactionHandler) UpdateStatus(c *gin.Context) {
	body, ok := readJSONBody(c)
	if !ok {
		return
	}

	req, err := dto.ParseUpdateStatusRequest(body)
	if err != nil {
		h.logger.Debug("Rejected update-status request", slog.String("error", err.Error()))
		h.writeRequestError(c, err)
		return
	}

	txn, err := h.store.UpdateStatus(c.Request.Context(), req.Selector, req.Update)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			errorJSON(c, http.StatusNotFound, domain.ErrTransactionNotFound.Error())
			return
		}

		h.logger.Error("Failed to update transaction status",
			slog.Int64("transaction_id", req.Selector.ID),
			slog.String("nit", req.Selector.NIT),
			slog.Any("error", err),
		)
		internalError(c)
		return
	}

	metrics.StatusUpdatesTotal.WithLabelValues(txn.Status).Inc()

	c.JSON(http.StatusOK, dto.FromTransaction(txn))
}

// NextTransaction handles GET /api/v1/next
// Claims the oldest PENDIENTE transaction, or with ?peek=true returns it unclaimed
func (h *TransactionHandler) NextTransaction(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("peek") == "true" {
		txn, err := h.store.FetchNextPending(ctx)
		if err != nil {
			h.handleNextError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.FromTransaction(txn))
		return
	}

	txn, err := h.store.ClaimNext(ctx, optionalHeader(c, "X-Runner-ID"))
	if err != nil {
		h.handleNextError(c, err)
		return
	}

	metrics.TransactionsClaimedTotal.WithLabelValues(metrics.SourceAPI).Inc()

	c.JSON(http.StatusOK, dto.FromTransaction(txn))
}

func (h *TransactionHandler) handleNextError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNoPendingTransaction) {
		c.Status(http.StatusNoContent)
		return
	}

	h.logger.Error("Failed to fetch next transaction", slog.Any("error", err))
	internalError(c)
}
