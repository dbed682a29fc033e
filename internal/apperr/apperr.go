// Package apperr defines the structured errors returned by order and payment operations.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an expected failure
type Kind string

// Error kinds
const (
	InvalidTransition   Kind = "invalid_transition"
	Unauthorized        Kind = "unauthorized"
	Unauthenticated     Kind = "unauthenticated"
	NotFound            Kind = "not_found"
	PaymentsNotEnabled  Kind = "payments_not_enabled"
	AlreadyRefunded     Kind = "already_refunded"
	NoSuccessfulPayment Kind = "no_successful_payment"
	ProviderError       Kind = "provider_error"
	Invalid             Kind = "invalid"
	ActionInFlight      Kind = "action_in_flight"
	RateLimited         Kind = "rate_limited"
	Timeout             Kind = "timeout"
	Canceled            Kind = "canceled"
	Internal            Kind = "internal"
)

// Error is a structured failure that callers can render without parsing strings
type Error struct {
	Kind    Kind              `json:"kind"`
	Message string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetail attaches a key/value detail and returns the same error
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Provider wraps a payments platform failure, keeping the raw provider message
func Provider(message string, err error) *Error {
	return &Error{Kind: ProviderError, Message: message, Err: err}
}

// Wrap converts an unexpected error into an internal error.
// Structured errors and context errors pass through with their own kind.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: Timeout, Message: "operation timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: Canceled, Message: "operation canceled", Err: err}
	}
	return &Error{Kind: Internal, Message: "internal error", Err: err}
}

// As extracts a structured error
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of an error
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Canceled
	default:
		return Internal
	}
}

var kindToStatus = map[Kind]int{
	InvalidTransition:   http.StatusConflict,
	Unauthorized:        http.StatusForbidden,
	Unauthenticated:     http.StatusUnauthorized,
	NotFound:            http.StatusNotFound,
	PaymentsNotEnabled:  http.StatusPreconditionFailed,
	AlreadyRefunded:     http.StatusConflict,
	NoSuccessfulPayment: http.StatusNotFound,
	ProviderError:       http.StatusBadGateway,
	Invalid:             http.StatusBadRequest,
	ActionInFlight:      http.StatusTooManyRequests,
	RateLimited:         http.StatusTooManyRequests,
	Timeout:             http.StatusGatewayTimeout,
	Canceled:            http.StatusRequestTimeout,
}

// HTTPStatus maps an error to the status code returned by the API
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to show an operator
func PublicMessage(err error) string {
	if ae, ok := As(err); ok && ae.Message != "" {
		if ae.Kind == ProviderError && ae.Err != nil {
			return fmt.Sprintf("%s: %v", ae.Message, ae.Err)
		}
		return ae.Message
	}
	return "internal error"
}
