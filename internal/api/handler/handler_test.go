package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/rues-api/internal/api/auth"
	"github.com/cuongbtq/rues-api/internal/api/domain"
	"github.com/cuongbtq/rues-api/internal/api/model"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memoryStore is an in-memory TransactionStore
type memoryStore struct {
	mu     sync.Mutex
	rows   []*model.Transaction
	nextID int64
	err    error
}

func (s *memoryStore) CreateTransaction(_ context.Context, in domain.NewTransaction) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	s.nextID++
	now := time.Now().UTC()
	txn := &model.Transaction{
		ID:        s.nextID,
		CompanyID: sql.NullInt64{Int64: 1, Valid: true},
		NIT:       in.NIT,
		Status:    domain.StatusPending,
		PayloadIn: in.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.IdempotencyKey != nil {
		txn.IdempotencyKey = sql.NullString{String: *in.IdempotencyKey, Valid: true}
	}
	s.rows = append(s.rows, txn)

	copied := *txn
	return &copied, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, sel domain.Selector, upd domain.StatusUpdate) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if sel.IsEmpty() {
		return nil, domain.ErrSelectorRequired
	}

	for _, txn := range s.rows {
		if (sel.ID > 0 && txn.ID == sel.ID) || (sel.ID <= 0 && txn.NIT == sel.NIT) {
			txn.Status = upd.Status
			if upd.ErrorCode != nil {
				txn.ErrorCode = sql.NullString{String: *upd.ErrorCode, Valid: true}
			}
			if upd.ErrorMsg != nil {
				txn.ErrorMsg = sql.NullString{String: *upd.ErrorMsg, Valid: true}
			}
			if upd.ResultPayload != nil {
				txn.ResultPayload = sql.NullString{String: *upd.ResultPayload, Valid: true}
			}
			copied := *txn
			return &copied, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (s *memoryStore) FetchNextPending(_ context.Context) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	for _, txn := range s.rows {
		if txn.Status == domain.StatusPending {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, domain.ErrNoPendingTransaction
}

func (s *memoryStore) ClaimNext(_ context.Context, runnerID *string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	for _, txn := range s.rows {
		if txn.Status == domain.StatusPending {
			txn.Status = domain.StatusProcessing
			if runnerID != nil {
				txn.RunnerID = sql.NullString{String: *runnerID, Valid: true}
			}
			copied := *txn
			return &copied, nil
		}
	}
	return nil, domain.ErrNoPendingTransaction
}

type recordingPublisher struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (p *recordingPublisher) TransactionCreated(_ context.Context, txn *model.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ids = append(p.ids, txn.ID)
	return p.err
}

type fakeHealth struct {
	err error
}

func (f fakeHealth) HealthCheck(context.Context) error {
	return f.err
}

type testEnv struct {
	engine    *gin.Engine
	store     *memoryStore
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &memoryStore{}
	publisher := &recordingPublisher{}

	deps := &Dependencies{
		Logger:    logger,
		Store:     store,
		Keys:      auth.NewValidator(auth.Config{AdminUser: "admin", AdminPass: "admin", TTL: time.Hour}, auth.NewMemoryRegistry(), logger),
		Publisher: publisher,
		Health:    fakeHealth{},
	}

	txns := NewTransactionHandler(deps)
	authHandler := NewAuthHandler(deps)
	health := NewHealthHandler(deps)

	r := gin.New()
	r.POST("/process-data", txns.ProcessData)
	r.POST("/update-status", txns.UpdateStatus)
	r.GET("/next", txns.NextTransaction)
	r.POST("/auth/login", authHandler.Login)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)

	return &testEnv{engine: r, store: store, publisher: publisher}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestProcessDataThenUpdateStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/process-data", `{"nit":"123456789"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	created := decode(t, w)
	assert.Equal(t, "123456789", created["nit"])
	assert.Equal(t, domain.StatusPending, created["status"])
	assert.Equal(t, `{"nit":"123456789"}`, created["payload_in"])
	assert.Nil(t, created["runner_id"])
	assert.Equal(t, []int64{1}, env.publisher.ids)

	w = env.do(http.MethodPost, "/update-status", `{"id":1,"status":"PROCESADO"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusProcessed, decode(t, w)["status"])
}

func TestProcessData(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantError   string
	}{
		{
			name:        "non-json content type",
			contentType: "text/plain",
			body:        `{"nit":"123456789"}`,
			wantStatus:  http.StatusBadRequest,
			wantError:   "Content-Type must be application/json",
		},
		{
			name:        "malformed json",
			contentType: "application/json",
			body:        `{"nit":`,
			wantStatus:  http.StatusBadRequest,
			wantError:   "invalid JSON body",
		},
		{
			name:        "missing nit",
			contentType: "application/json",
			body:        `{"other_field":"value"}`,
			wantStatus:  http.StatusUnprocessableEntity,
			wantError:   "field 'nit' is required",
		},
		{
			name:        "short nit",
			contentType: "application/json",
			body:        `{"nit":"123"}`,
			wantStatus:  http.StatusUnprocessableEntity,
			wantError:   "nit must be a string of at least 5 characters",
		},
		{
			name:        "content type with charset",
			contentType: "application/json; charset=utf-8",
			body:        `{"nit":"123456789","name":"ACME"}`,
			wantStatus:  http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			req := httptest.NewRequest(http.MethodPost, "/process-data", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			env.engine.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decode(t, w)["error"])
				assert.Empty(t, env.store.rows)
			}
		})
	}
}

func TestProcessData_IdempotencyKeyStoredNotEnforced(t *testing.T) {
	env := newTestEnv(t)
	headers := map[string]string{"Idempotency-Key": "abc-123"}

	first := env.do(http.MethodPost, "/process-data", `{"nit":"123456789"}`, headers)
	second := env.do(http.MethodPost, "/process-data", `{"nit":"123456789"}`, headers)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "abc-123", decode(t, first)["idempotency_key"])
	assert.NotEqual(t, decode(t, first)["id"], decode(t, second)["id"])
}

func TestProcessData_PublishFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker down")

	w := env.do(http.MethodPost, "/process-data", `{"nit":"123456789"}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestProcessData_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.err = errors.New("connection refused")

	w := env.do(http.MethodPost, "/process-data", `{"nit":"123456789"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode(t, w)["error"])
	assert.Empty(t, env.publisher.ids)
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
		check      func(t *testing.T, out map[string]any)
	}{
		{
			name:       "by nit with error details",
			body:       `{"nit":"123456789","status":"ERROR","error_code":"E1","error_msg":"bad"}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, "ERROR", out["status"])
				assert.Equal(t, "E1", out["error_code"])
				assert.Equal(t, "bad", out["error_msg"])
			},
		},
		{
			name:       "result payload stored serialized",
			body:       `{"id":1,"status":"PROCESADO","result_payload":{"score": 10}}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, `{"score":10}`, out["result_payload"])
			},
		},
		{
			name:       "unknown id",
			body:       `{"id":999,"status":"PROCESADO"}`,
			wantStatus: http.StatusNotFound,
			wantError:  "transaction not found",
		},
		{
			name:       "unknown nit",
			body:       `{"nit":"000000000","status":"PROCESADO"}`,
			wantStatus: http.StatusNotFound,
			wantError:  "transaction not found",
		},
		{
			name:       "claim status rejected",
			body:       `{"id":1,"status":"PROCESANDO"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "status must be one of: PENDIENTE, PROCESADO, ERROR",
		},
		{
			name:       "boolean id",
			body:       `{"id":true,"status":"PROCESADO"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "field 'id' must be a positive integer",
		},
		{
			name:       "no selector",
			body:       `{"status":"PROCESADO"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "field 'id' or 'nit' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/process-data", `{"nit":"123456789"}`, nil).Code)

			w := env.do(http.MethodPost, "/update-status", tt.body, nil)

			require.Equal(t, tt.wantStatus, w.Code)
			out := decode(t, w)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, out["error"])
			}
			if tt.check != nil {
				tt.check(t, out)
			}
		})
	}
}

func TestNextTransaction(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/next", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	env.do(http.MethodPost, "/process-data", `{"nit":"111111111"}`, nil)
	env.do(http.MethodPost, "/process-data", `{"nit":"222222222"}`, nil)

	w = env.do(http.MethodGet, "/next?peek=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	peeked := decode(t, w)
	assert.Equal(t, domain.StatusPending, peeked["status"])
	assert.Equal(t, "111111111", peeked["nit"])

	w = env.do(http.MethodGet, "/next", "", map[string]string{"X-Runner-ID": "runner-7"})
	require.Equal(t, http.StatusOK, w.Code)
	first := decode(t, w)
	assert.Equal(t, domain.StatusProcessing, first["status"])
	assert.Equal(t, "111111111", first["nit"])
	assert.Equal(t, "runner-7", first["runner_id"])

	w = env.do(http.MethodGet, "/next", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode(t, w)
	assert.Equal(t, "222222222", second["nit"])
	assert.Nil(t, second["runner_id"])

	w = env.do(http.MethodGet, "/next", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNextTransaction_ConcurrentClaimsAreDistinct(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/process-data", `{"nit":"123456789"}`, nil).Code)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[float64]int{}
		empty   int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := env.do(http.MethodGet, "/next", "", nil)

			mu.Lock()
			defer mu.Unlock()
			if w.Code == http.StatusNoContent {
				empty++
				return
			}
			var out map[string]any
			if json.Unmarshal(w.Body.Bytes(), &out) == nil {
				claimed[out["id"].(float64)]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 10)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "transaction %v claimed more than once", id)
	}
	assert.Equal(t, 5, empty)
}

func TestNextTransaction_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.err = errors.New("connection refused")

	w := env.do(http.MethodGet, "/next", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "valid credentials", body: `{"username":"admin","password":"admin"}`, wantStatus: http.StatusOK},
		{name: "wrong password", body: `{"username":"admin","password":"nope"}`, wantStatus: http.StatusUnauthorized, wantError: "Invalid credentials"},
		{name: "non-string username", body: `{"username":1,"password":"admin"}`, wantStatus: http.StatusUnauthorized, wantError: "Invalid credentials"},
		{name: "empty object", body: `{}`, wantStatus: http.StatusBadRequest, wantError: "JSON body is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(http.MethodPost, "/auth/login", tt.body, nil)

			require.Equal(t, tt.wantStatus, w.Code)
			out := decode(t, w)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, out["error"])
				return
			}
			assert.NotEmpty(t, out["api_key"])
			assert.Equal(t, float64(60), out["expires_in_minutes"])
		})
	}
}

func TestLogin_RequiresJSONContentType(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("username=admin"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = env.do(http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
}

func TestReady_Unavailable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHealthHandler(&Dependencies{Logger: logger, Health: fakeHealth{err: errors.New("down")}})

	r := gin.New()
	r.GET("/ready", h.Ready)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, w.Body.String())
}
