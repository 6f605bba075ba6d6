// Package apierr provides a standardised error response format for the
// sutra HTTP API.
//
// Every error response returned by the API uses the same JSON envelope:
//
//	{
//	  "ok":       false,
//	  "error":    "human-readable description",
//	  "code":     "MACHINE_READABLE_CODE",
//	  "status":   400
//	}
//
// Clients branch on the "code" field for programmatic handling and show
// the "error" field to humans.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sutraworks/sutra/pkg/core"
)

// ---------------------------------------------------------------------------
// Error codes — stable, machine-readable identifiers.
//
// These codes form part of the public API contract. Removing or
// renaming a code is a breaking change; adding new codes is always safe.
// ---------------------------------------------------------------------------

const (
	// General
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidJSON      = "INVALID_JSON"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeRateLimited      = "RATE_LIMITED"

	// Intent domain
	CodeTextRequired     = "TEXT_REQUIRED"
	CodeMalformedStroke  = "MALFORMED_STROKE"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeUnforgeable      = "UNFORGEABLE"
	CodeExhausted        = "RESOURCE_EXHAUSTED"
)

// ---------------------------------------------------------------------------
// Response type
// ---------------------------------------------------------------------------

// Response is the standard error envelope returned to API clients.
type Response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Code   string `json:"code"`
	Status int    `json:"status"`
}

// ---------------------------------------------------------------------------
// Writer helpers
// ---------------------------------------------------------------------------

// Write serialises an error Response and writes it to w with the
// appropriate HTTP status code. Content-Type is always application/json.
func Write(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		OK:     false,
		Error:  message,
		Code:   code,
		Status: status,
	})
}

// BadRequest writes a 400.
func BadRequest(w http.ResponseWriter, code, message string) {
	Write(w, http.StatusBadRequest, code, message)
}

// MethodNotAllowed writes a 405.
func MethodNotAllowed(w http.ResponseWriter) {
	Write(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
}

// RateLimited writes a 429.
func RateLimited(w http.ResponseWriter) {
	Write(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
}

// Internal writes a 500.
func Internal(w http.ResponseWriter, message string) {
	Write(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromError maps a core error to the envelope.
func FromError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrPermissionDenied):
		Write(w, http.StatusForbidden, CodePermissionDenied, err.Error())
	case errors.Is(err, core.ErrUnforgeable):
		Write(w, http.StatusForbidden, CodeUnforgeable, err.Error())
	case errors.Is(err, core.ErrResourceExhausted):
		Write(w, http.StatusRequestEntityTooLarge, CodeExhausted, err.Error())
	case errors.Is(err, core.ErrMalformedStroke), errors.Is(err, core.ErrInvalidInput):
		BadRequest(w, CodeBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		Write(w, http.StatusNotFound, CodeNotFound, err.Error())
	default:
		Internal(w, err.Error())
	}
}
