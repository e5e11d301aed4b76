// Package apperr defines the machine-readable error kinds returned by the
// escrow, ledger and withdrawal services.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidState           Kind = "invalid_state"
	KindRevisionLimitExceeded  Kind = "revision_limit_exceeded"
	KindInsufficientBalance    Kind = "insufficient_balance"
	KindBelowMinimum           Kind = "below_minimum"
	KindMissingNote            Kind = "missing_note"
	KindConcurrentModification Kind = "concurrent_modification"
	KindNotFound               Kind = "not_found"
	KindInvalidInput           Kind = "invalid_input"
	KindForbidden              Kind = "forbidden"
	KindUnauthorized           Kind = "unauthorized"
	KindConflict               Kind = "conflict"
	KindRateLimited            Kind = "rate_limited"
	KindInternal               Kind = "internal"
)

// Error is a kinded error. Two errors match under errors.Is when their kinds
// are equal, so callers compare against the Err* sentinels below.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidState           = &Error{Kind: KindInvalidState, Message: "illegal state transition"}
	ErrRevisionLimitExceeded  = &Error{Kind: KindRevisionLimitExceeded, Message: "revision limit reached"}
	ErrInsufficientBalance    = &Error{Kind: KindInsufficientBalance, Message: "insufficient balance"}
	ErrBelowMinimum           = &Error{Kind: KindBelowMinimum, Message: "amount below minimum"}
	ErrMissingNote            = &Error{Kind: KindMissingNote, Message: "note is required"}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification, Message: "record was modified concurrently"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
)

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller should re-fetch and try again.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// HTTPStatus maps an error to the status code the REST API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidState, KindConcurrentModification, KindConflict:
		return http.StatusConflict
	case KindRevisionLimitExceeded, KindInsufficientBalance, KindBelowMinimum:
		return http.StatusUnprocessableEntity
	case KindMissingNote, KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes err as {"error":{"kind":..,"message":..}}. Internal errors
// are reported with a generic message.
func WriteJSON(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	body := &Error{Kind: KindInternal, Message: "internal error"}
	var e *Error
	if status != http.StatusInternalServerError && errors.As(err, &e) {
		body = e
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]*Error{"error": body})
}
