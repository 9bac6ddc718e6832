package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrMissingBaseURL is returned by New when no endpoint is configured.
	ErrMissingBaseURL = errors.New("base url is required")

	// ErrMissingLimiter is returned by New when no rate limiter is supplied.
	ErrMissingLimiter = errors.New("rate limiter is required")

	// ErrMissingRotator is returned by New when no identity rotator is supplied.
	ErrMissingRotator = errors.New("identity rotator is required")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrInvalidPayload is returned when a 200 response is not a JSON object.
	ErrInvalidPayload = errors.New("payload is not a JSON object")

	// ErrInvalidKey is returned when Fetch is called with a malformed key.
	ErrInvalidKey = errors.New("invalid key")
)

// APIError represents a failed lookup with the response context attached.
type APIError struct {
	StatusCode int
	Kind       Kind
	Code       int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("api %s (status %d", e.Kind, e.StatusCode)
	if e.Code != 0 && e.Code != e.StatusCode {
		msg += fmt.Sprintf(", code %d", e.Code)
	}
	msg += ")"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}
