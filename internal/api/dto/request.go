package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cuongbtq/rues-api/internal/api/domain"
)

// ErrMalformedJSON is returned when the request body is not parseable JSON
var ErrMalformedJSON = errors.New("invalid JSON body")

// ValidationError describes a well-formed request that fails field validation
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var errInvalidNIT = invalid("nit must be a string of at least %d characters", domain.MinNITLength)

// ProcessDataRequest is a validated process-data submission
type ProcessDataRequest struct {
	NIT     string
	Name    *string
	Payload string
}

// UpdateStatusRequest is a validated update-status submission
type UpdateStatusRequest struct {
	Selector domain.Selector
	Update   domain.StatusUpdate
}

// decodeObject splits a JSON object into its raw members. Valid JSON that is
// not an object yields a nil map and no error so callers can report the
// missing fields.
func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, ErrMalformedJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func parseNIT(raw json.RawMessage) (string, error) {
	var nit string
	if isNull(raw) || json.Unmarshal(raw, &nit) != nil {
		return "", errInvalidNIT
	}
	if utf8.RuneCountInString(strings.TrimSpace(nit)) < domain.MinNITLength {
		return "", errInvalidNIT
	}
	return nit, nil
}

// parseText accepts a JSON string or number and returns its text. Null and
// absent values both yield nil.
func parseText(name string, raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		text := n.String()
		return &text, nil
	}

	return nil, invalid("field '%s' must be a string", name)
}

func compact(raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseProcessDataRequest validates a process-data body. The whole object is
// kept as the transaction payload.
func ParseProcessDataRequest(body []byte) (*ProcessDataRequest, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	rawNIT, ok := fields["nit"]
	if !ok {
		return nil, invalid("field 'nit' is required")
	}

	nit, err := parseNIT(rawNIT)
	if err != nil {
		return nil, err
	}

	req := &ProcessDataRequest{NIT: nit}

	if rawName, ok := fields["name"]; ok && !isNull(rawName) {
		var name string
		if err := json.Unmarshal(rawName, &name); err != nil {
			return nil, invalid("field 'name' must be a string")
		}
		req.Name = &name
	}

	if req.Payload, err = compact(body); err != nil {
		return nil, ErrMalformedJSON
	}

	return req, nil
}

func parseID(raw json.RawMessage) (int64, error) {
	errInvalidID := invalid("field 'id' must be a positive integer")

	// json.Number also accepts numeric strings such as "5"
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		return 0, errInvalidID
	}

	var n json.Number
	if isNull(raw) || json.Unmarshal(raw, &n) != nil {
		return 0, errInvalidID
	}

	id, err := n.Int64()
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

// ParseUpdateStatusRequest validates an update-status body. When both id and
// nit are present both are validated and id selects the row.
func ParseUpdateStatusRequest(body []byte) (*UpdateStatusRequest, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return nil, invalid("JSON body is required")
	}

	rawID, hasID := fields["id"]
	rawNIT, hasNIT := fields["nit"]
	if !hasID && !hasNIT {
		return nil, invalid("field 'id' or 'nit' is required")
	}

	req := &UpdateStatusRequest{}

	if hasID {
		if req.Selector.ID, err = parseID(rawID); err != nil {
			return nil, err
		}
	}

	if hasNIT {
		if req.Selector.NIT, err = parseNIT(rawNIT); err != nil {
			return nil, err
		}
	}

	rawStatus, ok := fields["status"]
	if !ok {
		return nil, invalid("field 'status' is required")
	}

	var status string
	if err := json.Unmarshal(rawStatus, &status); err != nil || !domain.IsUpdatableStatus(status) {
		return nil, invalid("status must be one of: %s", strings.Join(domain.UpdatableStatuses, ", "))
	}
	req.Update.Status = status

	if raw, ok := fields["error_code"]; ok {
		if req.Update.ErrorCode, err = parseText("error_code", raw); err != nil {
			return nil, err
		}
	}

	if raw, ok := fields["error_msg"]; ok {
		if req.Update.ErrorMsg, err = parseText("error_msg", raw); err != nil {
			return nil, err
		}
	}

	if raw, ok := fields["result_payload"]; ok && !isNull(raw) {
		result, err := compact(raw)
		if err != nil {
			return nil, ErrMalformedJSON
		}
		req.Update.ResultPayload = &result
	}

	return req, nil
}

// ParseLoginRequest reads username and password from a login body. Values
// that are not strings are left empty so they fail the credential check.
func ParseLoginRequest(body []byte) (*LoginRequest, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return nil, ErrMalformedJSON
	}

	// a non-string value leaves the field empty, which then fails
	// CheckCredentials with 401 rather than a 400
	req := &LoginRequest{}
	if raw, ok := fields["username"]; ok {
		if err := json.Unmarshal(raw, &req.Username); err != nil {
			req.Username = ""
		}
	}
	if raw, ok := fields["password"]; ok {
		if err := json.Unmarshal(raw, &req.Password); err != nil {
			req.Password = ""
		}
	}
	return req, nil
}
