package domain

import (
	"errors"
	"fmt"
)

// Transaction status values. The store does not enforce transitions between
// them; claiming is the only automatic PENDIENTE -> PROCESANDO move.
const (
	StatusPending    = "PENDIENTE"
	StatusProcessing = "PROCESANDO"
	StatusProcessed  = "PROCESADO"
	StatusError      = "ERROR"
)

// MinNITLength is the minimum NIT length after trimming whitespace
const MinNITLength = 5

var (
	// ErrTransactionNotFound is returned when a selector matches no transaction
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSelectorRequired is returned when neither id nor nit is supplied
	ErrSelectorRequired = fmt.Errorf("%w: id or nit is required", ErrTransactionNotFound)

	// ErrNoPendingTransaction is returned when no PENDIENTE transaction exists
	ErrNoPendingTransaction = errors.New("no pending transaction")

	// ErrAlreadyClaimed is returned when a claim targets a transaction that is no longer PENDIENTE
	ErrAlreadyClaimed = errors.New("transaction already claimed or not in PENDIENTE status")
)

// UpdatableStatuses are the statuses a caller may set through update-status.
// PROCESANDO is reachable only by claiming.
var UpdatableStatuses = []string{StatusPending, StatusProcessed, StatusError}

// IsUpdatableStatus reports whether status may be set through update-status
func IsUpdatableStatus(status string) bool {
	for _, s := range UpdatableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// NewTransaction is the input for creating a queued transaction
type NewTransaction struct {
	NIT            string
	CompanyName    *string
	Payload        string
	IdempotencyKey *string
}

// Selector identifies the transaction to update. ID takes precedence over NIT.
type Selector struct {
	ID  int64
	NIT string
}

// IsEmpty reports whether neither selector field is set
func (s Selector) IsEmpty() bool {
	return s.ID <= 0 && s.NIT == ""
}

// StatusUpdate is a partial update. Status is always written; a nil optional
// field leaves the stored value untouched, so an explicit null from a caller
// cannot clear a column.
type StatusUpdate struct {
	Status        string
	ErrorCode     *string
	ErrorMsg      *string
	ResultPayload *string
}
