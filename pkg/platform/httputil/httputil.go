// Package httputil centralizes JSON encoding and domain error translation for
// HTTP handlers so every endpoint returns the same envelopes.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "custodia/pkg/domain-errors"
)

// errorBody is the JSON envelope returned for every failed request.
// Code carries the stable numeric value for domain errors so external
// consumers can match on it; transport-level failures omit it.
type errorBody struct {
	Error       string `json:"error"`
	Code        *int   `json:"code,omitempty"`
	Description string `json:"error_description,omitempty"`
}

// statusByCode maps domain error codes to HTTP statuses.
var statusByCode = map[dErrors.Code]int{
	dErrors.CodeCapacityExceeded:         http.StatusInsufficientStorage,
	dErrors.CodeInvalidHash:              http.StatusUnprocessableEntity,
	dErrors.CodeInvalidPublicKey:         http.StatusUnprocessableEntity,
	dErrors.CodeInvalidName:              http.StatusUnprocessableEntity,
	dErrors.CodeInvalidBiometric:         http.StatusUnprocessableEntity,
	dErrors.CodeInvalidRecoveryContacts:  http.StatusUnprocessableEntity,
	dErrors.CodeInvalidApprovalCount:     http.StatusUnprocessableEntity,
	dErrors.CodeDuplicateIdentity:        http.StatusConflict,
	dErrors.CodeAuthorityNotConfigured:   http.StatusServiceUnavailable,
	dErrors.CodeNotAuthorized:            http.StatusForbidden,
	dErrors.CodeIdentityNotFound:         http.StatusNotFound,
	dErrors.CodeRecoveryAlreadyInitiated: http.StatusConflict,
	dErrors.CodeRecoveryNotInitiated:     http.StatusConflict,
	dErrors.CodeBadRequest:               http.StatusBadRequest,
	dErrors.CodeUnauthorized:             http.StatusUnauthorized,
	dErrors.CodeForbidden:                http.StatusForbidden,
	dErrors.CodeConflict:                 http.StatusConflict,
	dErrors.CodeInternal:                 http.StatusInternalServerError,
}

// WriteJSON encodes v with the given status. Encoding failures are ignored
// because the status line has already been committed.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope.
// Unknown errors are reported as internal without leaking their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	message := ""
	if de, ok := dErrors.Is(err); ok {
		code = de.Code
		message = de.Message
	}

	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := errorBody{Error: string(code)}
	if wire, ok := code.Wire(); ok {
		body.Code = &wire
	}
	// Internal details stay in logs, not responses.
	if code != dErrors.CodeInternal {
		body.Description = message
	}
	WriteJSON(w, status, body)
}

// DecodeAndPrepare decodes the JSON request body into T and writes a
// bad_request envelope on failure. The boolean reports whether the handler
// should continue.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "failed to decode request body",
				"request_id", requestID,
				"error", err,
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed JSON request body"))
		var zero T
		return zero, false
	}
	return req, true
}
