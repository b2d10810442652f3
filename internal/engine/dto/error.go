package dto

import "errors"

// External collaborator error taxonomy. Gateway clients map transport and
// status failures onto these so callers can decide between skip, retry and
// abort without inspecting provider-specific errors.
var (
	ErrUnavailable   = errors.New("external service unavailable")
	ErrRateLimited   = errors.New("external service rate limited")
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrOrderRejected = errors.New("order rejected by broker")
)

// Engine-internal sentinel errors.
var (
	ErrCycleInProgress = errors.New("cycle already in progress for account")
	ErrVersionConflict = errors.New("record version conflict")
	ErrNotFound        = errors.New("record not found")
)

// ErrorResponse represents a generic error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Retryable reports whether an order submission failure is transient and worth
// another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}
