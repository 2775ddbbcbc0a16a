package providers

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure for the orchestrator's retry
// policy. All kinds are retryable against the same or a fallback provider.
type ErrorKind string

const (
	// KindTransient covers network errors, timeouts and 5xx responses
	KindTransient ErrorKind = "transient"
	// KindMalformed covers unparseable provider responses
	KindMalformed ErrorKind = "malformed"
	// KindRefused covers provider-reported content-policy refusals
	KindRefused ErrorKind = "refused"
)

// ProviderError wraps any failure from an inference backend
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func transientErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: KindTransient, Err: err}
}

func malformedErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: KindMalformed, Err: err}
}

func refusedErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Kind: KindRefused, Err: err}
}

// AsProviderError unwraps err into a ProviderError if there is one
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
