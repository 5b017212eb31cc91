package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend error taxonomy.
var (
	ErrNotFound = errors.New("model not found")
	ErrTimeout  = errors.New("request timed out")
)

// TransportError reports a network-level failure talking to a provider.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError reports a provider response that could not be decoded.
type MalformedResponseError struct {
	Provider string
	Detail   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Provider, e.Detail)
}

// Classify normalizes SDK and transport errors into the backend taxonomy.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, "model not found", "404", "not found") {
		return fmt.Errorf("%s: %w: %v", provider, ErrNotFound, err)
	}

	if containsAny(errStr, "timeout", "deadline exceeded") {
		return fmt.Errorf("%s: %w", provider, ErrTimeout)
	}

	if containsAny(errStr, "connection", "eof", "dial", "refused", "no such host", "reset by peer") {
		return &TransportError{Provider: provider, Err: err}
	}

	if containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden") {
		return fmt.Errorf("%s: authentication failed: %w", provider, err)
	}

	if containsAny(errStr, "429", "rate limit", "quota", "too many requests") {
		return fmt.Errorf("%s: rate limited: %w", provider, err)
	}

	return fmt.Errorf("%s: %w", provider, err)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
