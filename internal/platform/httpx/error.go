// Package httpx writes the API's JSON responses and error envelope.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	// retryAfterSeconds is advertised on retryable errors; conflicts clear within a commit.
	retryAfterSeconds = 1
)

// Error is an API error. Code is stable and machine readable; Message is shown to users.
type Error struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	Details   map[string]any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLength),
		Message: clip(message, maxMessageLength),
		Status:  status,
	}
}

// AsRetryable marks the error as safe to retry unchanged.
func (e Error) AsRetryable() Error {
	e.Retryable = true
	return e
}

// WithDetails attaches structured context, e.g. the warehouse that ran short.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = make(map[string]any, len(details))
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

type envelope struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	Retryable bool           `json:"retryable,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteError writes err as the JSON envelope. Retryable errors carry Retry-After and
// server errors are logged on the request logger.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	body := envelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    err.Status,
		Retryable: err.Retryable,
		RequestID: clip(middleware.GetReqID(ctx), maxCodeLength),
		TraceID:   clip(requestctx.TraceID(ctx), 64),
		Details:   err.Details,
	}
	if err.Retryable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	if err.Status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Warn("request failed",
			zap.String("code", err.Code), zap.Int("status", err.Status), zap.String("message", err.Message))
	}
	WriteJSON(w, err.Status, body)
}

// WriteJSON encodes payload with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// clip flattens newlines and truncates to limit bytes.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
