package dto

import (
	"database/sql"
	"time"

	"github.com/cuongbtq/rues-api/internal/api/model"
)

// TransactionDTO is the persisted record shape returned to clients
type TransactionDTO struct {
	ID             int64   `json:"id"`
	CompanyID      *int64  `json:"company_id"`
	NIT            string  `json:"nit"`
	Status         string  `json:"status"`
	PayloadIn      string  `json:"payload_in"`
	ResultPayload  *string `json:"result_payload"`
	ErrorCode      *string `json:"error_code"`
	ErrorMsg       *string `json:"error_msg"`
	RunnerID       *string `json:"runner_id"`
	IdempotencyKey *string `json:"idempotency_key"`
	CreatedAt      *string `json:"created_at"`
	UpdatedAt      *string `json:"updated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	APIKey           string `json:"api_key"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// FromTransaction converts a stored transaction into its wire form
func FromTransaction(tx *model.Transaction) TransactionDTO {
	out := TransactionDTO{
		ID:             tx.ID,
		NIT:            tx.NIT,
		Status:         tx.Status,
		PayloadIn:      tx.PayloadIn,
		ResultPayload:  nullString(tx.ResultPayload),
		ErrorCode:      nullString(tx.ErrorCode),
		ErrorMsg:       nullString(tx.ErrorMsg),
		RunnerID:       nullString(tx.RunnerID),
		IdempotencyKey: nullString(tx.IdempotencyKey),
		CreatedAt:      timestamp(tx.CreatedAt),
		UpdatedAt:      timestamp(tx.UpdatedAt),
	}

	if tx.CompanyID.Valid {
		id := tx.CompanyID.Int64
		out.CompanyID = &id
	}

	return out
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timestamp(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
