package core

import "errors"

// Exhaustive error kinds for the core. Every failure that crosses a
// package boundary wraps one of these sentinels so callers can branch
// with errors.Is regardless of the wrapping depth.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUnforgeable       = errors.New("capability handle invalid")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrHandlerFault      = errors.New("handler fault")
	ErrDeadlineExceeded  = errors.New("deadline exceeded")
	ErrQuarantined       = errors.New("handler quarantined")

	// Capability-table refinements. The table wraps ErrRevoked and
	// ErrExpired in ErrUnforgeable; ErrAmplification and ErrNoResource
	// are returned on their own.
	ErrRevoked       = errors.New("capability revoked")
	ErrExpired       = errors.New("capability expired")
	ErrAmplification = errors.New("derive attempted to add permissions")
	ErrNotOwner      = errors.New("caller does not own capability")
	ErrNoResource    = errors.New("capability resource not resolvable")

	// ErrReservedRange is returned when user code attempts to construct
	// a kernel-range concept without a system capability.
	ErrReservedRange = errors.New("reserved concept range misuse")

	// ErrMalformedStroke is returned for chords that violate RTFCRE
	// ordering or carry unknown keys.
	ErrMalformedStroke = errors.New("malformed stroke")
)
