package dto

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/rues-api/internal/api/domain"
	"github.com/cuongbtq/rues-api/internal/api/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcessDataRequest(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantNIT     string
		wantName    *string
		wantPayload string
		wantErr     error
		wantMessage string
	}{
		{
			name:        "nit only",
			body:        `{"nit": "123456789"}`,
			wantNIT:     "123456789",
			wantPayload: `{"nit":"123456789"}`,
		},
		{
			name:        "extra fields carried into payload",
			body:        `{"nit":"900123456","name":"ACME SAS","city":"Bogota"}`,
			wantNIT:     "900123456",
			wantName:    strPtr("ACME SAS"),
			wantPayload: `{"nit":"900123456","name":"ACME SAS","city":"Bogota"}`,
		},
		{
			name:        "null name is absent",
			body:        `{"nit":"900123456","name":null}`,
			wantNIT:     "900123456",
			wantPayload: `{"nit":"900123456","name":null}`,
		},
		{
			name:    "not json",
			body:    `nit=123456789`,
			wantErr: ErrMalformedJSON,
		},
		{
			name:    "empty body",
			body:    ``,
			wantErr: ErrMalformedJSON,
		},
		{
			name:        "missing nit",
			body:        `{"other_field":"value"}`,
			wantMessage: "field 'nit' is required",
		},
		{
			name:        "empty object",
			body:        `{}`,
			wantMessage: "field 'nit' is required",
		},
		{
			name:        "array body",
			body:        `["123456789"]`,
			wantMessage: "field 'nit' is required",
		},
		{
			name:        "short nit after trimming",
			body:        `{"nit":"  1234  "}`,
			wantMessage: "nit must be a string of at least 5 characters",
		},
		{
			name:        "multibyte nit shorter than five characters",
			body:        `{"nit":"éééé"}`,
			wantMessage: "nit must be a string of at least 5 characters",
		},
		{
			name:        "multibyte nit of five characters",
			body:        `{"nit":"ñññññ"}`,
			wantNIT:     "ñññññ",
			wantPayload: `{"nit":"ñññññ"}`,
		},
		{
			name:        "long nit has no upper bound",
			body:        `{"nit":"` + strings.Repeat("9", 100) + `"}`,
			wantNIT:     strings.Repeat("9", 100),
			wantPayload: `{"nit":"` + strings.Repeat("9", 100) + `"}`,
		},
		{
			name:        "numeric nit",
			body:        `{"nit":123456789}`,
			wantMessage: "nit must be a string of at least 5 characters",
		},
		{
			name:        "null nit",
			body:        `{"nit":null}`,
			wantMessage: "nit must be a string of at least 5 characters",
		},
		{
			name:        "non-string name",
			body:        `{"nit":"123456789","name":42}`,
			wantMessage: "field 'name' must be a string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseProcessDataRequest([]byte(tt.body))

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, req)
				return
			}

			if tt.wantMessage != "" {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantMessage, vErr.Message)
				assert.Nil(t, req)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantNIT, req.NIT)
			assert.Equal(t, tt.wantName, req.Name)
			assert.Equal(t, tt.wantPayload, req.Payload)
		})
	}
}

func TestParseUpdateStatusRequest(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		want        *UpdateStatusRequest
		wantErr     error
		wantMessage string
	}{
		{
			name: "by id",
			body: `{"id": 12, "status": "PROCESADO"}`,
			want: &UpdateStatusRequest{
				Selector: domain.Selector{ID: 12},
				Update:   domain.StatusUpdate{Status: domain.StatusProcessed},
			},
		},
		{
			name: "by nit with optional fields",
			body: `{"nit":"123456789","status":"ERROR","error_code":"E42","error_msg":"registry timeout","result_payload":{"retry": true}}`,
			want: &UpdateStatusRequest{
				Selector: domain.Selector{NIT: "123456789"},
				Update: domain.StatusUpdate{
					Status:        domain.StatusError,
					ErrorCode:     strPtr("E42"),
					ErrorMsg:      strPtr("registry timeout"),
					ResultPayload: strPtr(`{"retry":true}`),
				},
			},
		},
		{
			name: "id and nit both kept",
			body: `{"id":3,"nit":"123456789","status":"PENDIENTE"}`,
			want: &UpdateStatusRequest{
				Selector: domain.Selector{ID: 3, NIT: "123456789"},
				Update:   domain.StatusUpdate{Status: domain.StatusPending},
			},
		},
		{
			name: "numeric error code and explicit nulls",
			body: `{"id":3,"status":"ERROR","error_code":500,"error_msg":null,"result_payload":null}`,
			want: &UpdateStatusRequest{
				Selector: domain.Selector{ID: 3},
				Update:   domain.StatusUpdate{Status: domain.StatusError, ErrorCode: strPtr("500")},
			},
		},
		{
			name:    "malformed",
			body:    `{"id":`,
			wantErr: ErrMalformedJSON,
		},
		{
			name:        "empty object",
			body:        `{}`,
			wantMessage: "JSON body is required",
		},
		{
			name:        "no selector",
			body:        `{"status":"PROCESADO"}`,
			wantMessage: "field 'id' or 'nit' is required",
		},
		{
			name:        "zero id",
			body:        `{"id":0,"status":"PROCESADO"}`,
			wantMessage: "field 'id' must be a positive integer",
		},
		{
			name:        "fractional id",
			body:        `{"id":1.5,"status":"PROCESADO"}`,
			wantMessage: "field 'id' must be a positive integer",
		},
		{
			name:        "string id",
			body:        `{"id":"5","status":"PROCESADO"}`,
			wantMessage: "field 'id' must be a positive integer",
		},
		{
			name:        "boolean id",
			body:        `{"id":true,"status":"PROCESADO"}`,
			wantMessage: "field 'id' must be a positive integer",
		},
		{
			name:        "short nit",
			body:        `{"nit":"123","status":"PROCESADO"}`,
			wantMessage: "nit must be a string of at least 5 characters",
		},
		{
			name:        "multibyte nit selector shorter than five characters",
			body:        `{"nit":"éééé","status":"PROCESADO"}`,
			wantMessage: "nit must be a string of at least 5 characters",
		},
		{
			name:        "missing status",
			body:        `{"id":1}`,
			wantMessage: "field 'status' is required",
		},
		{
			name:        "claim-only status",
			body:        `{"id":1,"status":"PROCESANDO"}`,
			wantMessage: "status must be one of: PENDIENTE, PROCESADO, ERROR",
		},
		{
			name:        "unknown status",
			body:        `{"id":1,"status":"DONE"}`,
			wantMessage: "status must be one of: PENDIENTE, PROCESADO, ERROR",
		},
		{
			name:        "object error message",
			body:        `{"id":1,"status":"ERROR","error_msg":{"text":"x"}}`,
			wantMessage: "field 'error_msg' must be a string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseUpdateStatusRequest([]byte(tt.body))

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			if tt.wantMessage != "" {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantMessage, vErr.Message)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, req)
		})
	}
}

func TestFromTransaction(t *testing.T) {
	created := time.Date(2025, 9, 27, 19, 14, 30, 0, time.UTC)

	out := FromTransaction(&model.Transaction{
		ID:             7,
		CompanyID:      sql.NullInt64{Int64: 3, Valid: true},
		NIT:            "123456789",
		Status:         domain.StatusPending,
		PayloadIn:      `{"nit":"123456789"}`,
		IdempotencyKey: sql.NullString{String: "idem-1", Valid: true},
		CreatedAt:      created,
		UpdatedAt:      created,
	})

	require.NotNil(t, out.CompanyID)
	assert.Equal(t, int64(3), *out.CompanyID)
	assert.Nil(t, out.ResultPayload)
	assert.Nil(t, out.ErrorCode)
	assert.Nil(t, out.RunnerID)
	assert.Equal(t, strPtr("idem-1"), out.IdempotencyKey)
	assert.Equal(t, strPtr("2025-09-27T19:14:30Z"), out.CreatedAt)

	noCompany := FromTransaction(&model.Transaction{ID: 8})
	assert.Nil(t, noCompany.CompanyID)
	assert.Nil(t, noCompany.CreatedAt)
}

func strPtr(s string) *string {
	return &s
}

func TestParseLoginRequest(t *testing.T) {
	req, err := ParseLoginRequest([]byte(`{"username":"admin","password":"admin"}`))
	require.NoError(t, err)
	assert.Equal(t, &LoginRequest{Username: "admin", Password: "admin"}, req)

	req, err = ParseLoginRequest([]byte(`{"username":42,"password":"admin"}`))
	require.NoError(t, err)
	assert.Empty(t, req.Username)

	req, err = ParseLoginRequest([]byte(`{"username":"admin","password":{"value":"admin"}}`))
	require.NoError(t, err)
	assert.Equal(t, "admin", req.Username)
	assert.Empty(t, req.Password)

	_, err = ParseLoginRequest([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMalformedJSON)

	_, err = ParseLoginRequest([]byte(`[]`))
	assert.ErrorIs(t, err, ErrMalformedJSON)

	_, err = ParseLoginRequest([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedJSON)
}
