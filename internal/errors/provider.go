// Package errors defines the failure taxonomy of cover resolution.
// Provider failures are absorbed by the pipeline; only invalid queries
// surface to callers.
package errors

import (
	stdErrors "errors"
	"fmt"
)

// ProviderErrorKind classifies why a provider call produced no candidates.
type ProviderErrorKind int

const (
	// ProviderUnavailable covers network errors, timeouts and non-2xx statuses.
	ProviderUnavailable ProviderErrorKind = iota
	// MalformedResponse means the provider answered with an unparseable payload.
	MalformedResponse
)

func (k ProviderErrorKind) String() string {
	switch k {
	case MalformedResponse:
		return "malformed_response"
	default:
		return "provider_unavailable"
	}
}

// ProviderError is returned by provider adapters.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewUnavailable wraps a transport-level failure.
func NewUnavailable(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ProviderUnavailable, Err: err}
}

// NewStatus reports an unexpected HTTP status.
func NewStatus(provider string, statusCode int) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ProviderUnavailable, StatusCode: statusCode}
}

// NewMalformed wraps a decoding failure.
func NewMalformed(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: MalformedResponse, Err: err}
}

// IsProviderError reports whether err is a ProviderError (even when wrapped).
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return stdErrors.As(err, &providerErr)
}

// IsMalformedResponse reports whether err is a ProviderError of kind MalformedResponse.
func IsMalformedResponse(err error) bool {
	var providerErr *ProviderError
	return stdErrors.As(err, &providerErr) && providerErr.Kind == MalformedResponse
}

// InvalidQueryError rejects a request before it enters the pipeline.
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return "invalid query: " + e.Reason
}

// NewInvalidQuery creates an InvalidQueryError with the given reason.
func NewInvalidQuery(reason string) *InvalidQueryError {
	return &InvalidQueryError{Reason: reason}
}

// IsInvalidQuery reports whether err is an InvalidQueryError (even when wrapped).
func IsInvalidQuery(err error) bool {
	var queryErr *InvalidQueryError
	return stdErrors.As(err, &queryErr)
}
