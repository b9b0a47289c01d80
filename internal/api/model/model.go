package model

import (
	"database/sql"
	"time"
)

type Company struct {
	ID        int64          `db:"id"`
	NIT       string         `db:"nit"`
	Name      sql.NullString `db:"name"`
	CreatedAt time.Time      `db:"created_at"`
}

type Transaction struct {
	ID             int64          `db:"id"`
	CompanyID      sql.NullInt64  `db:"company_id"`
	NIT            string         `db:"nit"`
	Status         string         `db:"status"`
	PayloadIn      string         `db:"payload_in"`
	ResultPayload  sql.NullString `db:"result_payload"`
	ErrorCode      sql.NullString `db:"error_code"`
	ErrorMsg       sql.NullString `db:"error_msg"`
	RunnerID       sql.NullString `db:"runner_id"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}
