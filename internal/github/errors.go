package github

import (
	"fmt"
)

// PrivateKeyError indicates the App's private key file could not be read or
// parsed. This is fatal at startup; nothing can be signed without the key.
type PrivateKeyError struct {
	Path string
	Err  error
}

func (e *PrivateKeyError) Error() string {
	return fmt.Sprintf("unusable private key %s: %v", e.Path, e.Err)
}

func (e *PrivateKeyError) Unwrap() error { return e.Err }

// ExchangeError indicates the App JWT could not be exchanged for an
// installation access token, either because the network call failed or
// because GitHub rejected the assertion.
type ExchangeError struct {
	Org string
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("installation token exchange for %q failed: %v", e.Org, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// AuthError indicates the API rejected a request as unauthorized even after
// the cached token was discarded and reacquired. Terminal for that call.
type AuthError struct {
	Status   int
	Endpoint string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("request to %s rejected with status %d after token refresh", e.Endpoint, e.Status)
}

// StatusError carries a non-retryable 4xx response. The body is retained for
// diagnostics; GitHub includes a descriptive JSON message.
type StatusError struct {
	Status   int
	Endpoint string
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d: %s", e.Endpoint, e.Status, e.Body)
}

// RetryExhaustedError wraps the last failure after the retry budget for a
// transient condition ran out.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
