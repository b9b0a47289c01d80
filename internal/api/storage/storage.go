package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/rues-api/internal/api/domain"
	"github.com/cuongbtq/rues-api/internal/api/model"
	"github.com/jmoiron/sqlx"
)

const transactionColumns = `
	id, company_id, nit, status, payload_in, result_payload,
	error_code, error_msg, runner_id, idempotency_key, created_at, updated_at
`

// Storage handles all transaction queue database operations
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// withTx runs fn inside a database transaction, committing when fn succeeds
func (s *Storage) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// resolveCompany returns the company for nit, creating it on first use.
// The no-op update makes RETURNING yield the existing row on conflict, so
// concurrent first inserts of one nit both succeed and the stored name is
// kept.
func resolveCompany(ctx context.Context, tx *sqlx.Tx, nit string, name *string) (*model.Company, error) {
	query := `
		INSERT INTO companies (nit, name)
		VALUES ($1, $2)
		ON CONFLICT (nit) DO UPDATE SET nit = EXCLUDED.nit
		RETURNING id, nit, name, created_at
	`

	var company model.Company
	if err := tx.GetContext(ctx, &company, query, nit, name); err != nil {
		return nil, fmt.Errorf("failed to resolve company: %w", err)
	}
	return &company, nil
}

// CreateTransaction enqueues a PENDIENTE transaction, creating its company
// when the nit is new. Both writes commit together.
func (s *Storage) CreateTransaction(ctx context.Context, in domain.NewTransaction) (*model.Transaction, error) {
	query := `
		INSERT INTO transactions (
			company_id, nit, status, payload_in, idempotency_key,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			NOW(), NOW()
		)
		RETURNING ` + transactionColumns

	var txn model.Transaction
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		company, err := resolveCompany(ctx, tx, in.NIT, in.CompanyName)
		if err != nil {
			return err
		}

		if err := tx.GetContext(ctx, &txn, query,
			company.ID,
			in.NIT,
			domain.StatusPending,
			in.Payload,
			in.IdempotencyKey,
		); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transaction created",
		slog.Int64("transaction_id", txn.ID),
		slog.String("nit", txn.NIT),
	)

	return &txn, nil
}

// UpdateStatus overwrites the status of the selected transaction and sets
// whichever optional fields are non-nil. A nit selector matches the oldest
// transaction for that nit.
func (s *Storage) UpdateStatus(ctx context.Context, sel domain.Selector, upd domain.StatusUpdate) (*model.Transaction, error) {
	if sel.IsEmpty() {
		return nil, domain.ErrSelectorRequired
	}

	target := `id = $5`
	var key any = sel.ID
	if sel.ID <= 0 {
		target = `id = (SELECT id FROM transactions WHERE nit = $5 ORDER BY id LIMIT 1)`
		key = sel.NIT
	}

	query := `
		UPDATE transactions
		SET status = $1,
			error_code = COALESCE($2, error_code),
			error_msg = COALESCE($3, error_msg),
			result_payload = COALESCE($4, result_payload),
			updated_at = NOW()
		WHERE ` + target + `
		RETURNING ` + transactionColumns

	var txn model.Transaction
	err := s.db.GetContext(ctx, &txn, query,
		upd.Status,
		upd.ErrorCode,
		upd.ErrorMsg,
		upd.ResultPayload,
		key,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}

	s.logger.Info("Transaction status updated",
		slog.Int64("transaction_id", txn.ID),
		slog.String("status", txn.Status),
	)

	return &txn, nil
}

// FetchNextPending returns the oldest PENDIENTE transaction without claiming it
func (s *Storage) FetchNextPending(ctx context.Context) (*model.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1
		ORDER BY id
		LIMIT 1
	`

	var txn model.Transaction
	if err := s.db.GetContext(ctx, &txn, query, domain.StatusPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoPendingTransaction
		}
		return nil, fmt.Errorf("failed to fetch next pending transaction: %w", err)
	}

	return &txn, nil
}

// ClaimNext moves the oldest PENDIENTE transaction to PROCESANDO in a single
// statement. Rows locked by a concurrent claimer are skipped, so two callers
// never receive the same transaction. A nil runnerID leaves runner_id as is.
func (s *Storage) ClaimNext(ctx context.Context, runnerID *string) (*model.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = $1,
			runner_id = COALESCE($2, runner_id),
			updated_at = NOW()
		WHERE id = (
			SELECT id FROM transactions
			WHERE status = $3
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + transactionColumns

	var txn model.Transaction
	err := s.db.GetContext(ctx, &txn, query, domain.StatusProcessing, runnerID, domain.StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoPendingTransaction
		}
		return nil, fmt.Errorf("failed to claim next transaction: %w", err)
	}

	s.logger.Info("Transaction claimed",
		slog.Int64("transaction_id", txn.ID),
		slog.String("runner_id", txn.RunnerID.String),
	)

	return &txn, nil
}

// ClaimTransaction claims a specific transaction if it is still PENDIENTE
func (s *Storage) ClaimTransaction(ctx context.Context, id int64, runnerID string) (*model.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = $1,
			runner_id = $2,
			updated_at = NOW()
		WHERE id = $3
		  AND status = $4
		RETURNING ` + transactionColumns

	var txn model.Transaction
	err := s.db.GetContext(ctx, &txn, query, domain.StatusProcessing, runnerID, id, domain.StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim transaction - already claimed or not found",
				slog.Int64("transaction_id", id),
				slog.String("runner_id", runnerID),
			)
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim transaction: %w", err)
	}

	s.logger.Info("Transaction claimed",
		slog.Int64("transaction_id", id),
		slog.String("runner_id", runnerID),
	)

	return &txn, nil
}
