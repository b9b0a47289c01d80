package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/rues-api/internal/api/auth"
	"github.com/cuongbtq/rues-api/internal/api/domain"
	"github.com/cuongbtq/rues-api/internal/api/dto"
	"github.com/cuongbtq/rues-api/internal/api/model"
	"github.com/gin-gonic/gin"
)

// TransactionStore is the persistence the transaction handlers use
type TransactionStore interface {
	CreateTransaction(ctx context.Context, in domain.NewTransaction) (*model.Transaction, error)
	UpdateStatus(ctx context.Context, sel domain.Selector, upd domain.StatusUpdate) (*model.Transaction, error)
	FetchNextPending(ctx context.Context) (*model.Transaction, error)
	ClaimNext(ctx context.Context, runnerID *string) (*model.Transaction, error)
}

// KeyService checks admin credentials and issues API keys
type KeyService interface {
	CheckCredentials(username, password string) bool
	Issue(ctx context.Context, username string) (*auth.IssuedKey, error)
}

// EventPublisher announces queue changes to workers
type EventPublisher interface {
	TransactionCreated(ctx context.Context, txn *model.Transaction) error
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     TransactionStore
	Keys      KeyService
	Publisher EventPublisher
	Health    HealthChecker

	// PublishTimeout bounds event publishing after a create
	PublishTimeout time.Duration
}

const (
	contentTypeJSON       = "application/json"
	defaultPublishTimeout = 5 * time.Second
)

func errorJSON(c *gin.Context, status int, message string) {
	c.JSON(status, dto.ErrorResponse{Error: message})
}

func internalError(c *gin.Context) {
	errorJSON(c, http.StatusInternalServerError, "Internal server error")
}

// readJSONBody enforces a JSON content type and returns the raw body. It
// writes the 400 response itself and returns false on failure.
func readJSONBody(c *gin.Context) ([]byte, bool) {
	if c.ContentType() != contentTypeJSON {
		errorJSON(c, http.StatusBadRequest, "Content-Type must be application/json")
		return nil, false
	}

	body, err := c.GetRawData()
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}

	return body, true
}

func optionalHeader(c *gin.Context, name string) *string {
	v := c.GetHeader(name)
	if v == "" {
		return nil
	}
	return &v
}
