package graphql

import (
	"fmt"
	"time"
)

type ErrorKind string

const (
	// ErrorUnauthorized means the credential was rejected. Never retried.
	ErrorUnauthorized ErrorKind = "unauthorized"
	// ErrorRateLimited means the remote throttled the call. Retried with
	// backoff, honoring any server-supplied retry hint.
	ErrorRateLimited ErrorKind = "rate_limited"
	// ErrorTransient covers network failures and 5xx responses. Retried.
	ErrorTransient ErrorKind = "transient"
	// ErrorMalformedResponse means the payload did not parse or the remote
	// rejected the query outright. Never retried.
	ErrorMalformedResponse ErrorKind = "malformed_response"
)

// RemoteError is the typed failure of one remote call. Message never contains
// the credential.
type RemoteError struct {
	Kind       ErrorKind
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure class is worth another attempt.
func (e *RemoteError) Retryable() bool {
	return e.Kind == ErrorRateLimited || e.Kind == ErrorTransient
}
