package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedProvider is returned when a provider name is outside the fixed enumeration
	ErrUnsupportedProvider = errors.New("unsupported LLM provider")
	// ErrProviderUnavailable covers network, credential and upstream status failures
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderTimeout is returned when a provider call exceeds its deadline
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrEmptyResponse is returned when the upstream answered without any text
	ErrEmptyResponse = errors.New("empty response")
)

// ProviderError wraps a failed provider call with the provider name and its failure kind
type ProviderError struct {
	Provider string
	Kind     error // ErrProviderUnavailable or ErrProviderTimeout
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Cause)
}

// Unwrap exposes the underlying cause
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is matches the failure kind so callers can use errors.Is with the sentinels
func (e *ProviderError) Is(target error) bool {
	return target == e.Kind
}

// WrapError classifies err for provider. Deadline overruns become timeouts, everything else is unavailable.
// A canceled caller context is returned unchanged.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := ErrProviderUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrProviderTimeout
	}
	return &ProviderError{Provider: provider, Kind: kind, Cause: err}
}

// statusError describes a non-2xx upstream response
type statusError struct {
	Status string
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Status, e.Body)
}
