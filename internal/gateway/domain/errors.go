package domain

import (
	"errors"
	"fmt"
)

// Configuration failures: fail fast at call time, never fall back to a
// different provider.
var (
	ErrProviderNotFound   = errors.New("provider_not_configured")
	ErrMissingCredentials = errors.New("missing_credentials")
	ErrUnsupported        = errors.New("operation_not_supported")
)

// ErrVerificationFailed marks a webhook that failed authentication. The
// reason is never surfaced past this sentinel.
var ErrVerificationFailed = errors.New("webhook_verification_failed")

// TransportError wraps network, timeout and non-2xx failures carrying no
// business meaning. Callers may retry.
type TransportError struct {
	Provider   string
	Operation  string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: transport error: status %d", e.Provider, e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: transport error: %v", e.Provider, e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is a provider-declared business failure: the provider was
// reached and said no. Retrying without changing input will not help.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s declined: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s declined: %s", e.Provider, e.Message)
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProviderDeclined reports whether the provider explicitly refused the
// operation.
func IsProviderDeclined(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
