package models

import "fmt"

// Errors implement IsTransient so the job queue can distinguish
// retryable failures (network, remote service) from permanent ones
// (validation, parse, rolled-back transactions).

// ValidationError represents malformed or out-of-range input. Recovered
// locally where possible (e.g. an invalid bounding box is replaced by
// the source default), never fatal.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) IsTransient() bool {
	return false
}

// FetchError represents a network-level failure talking to a WFS
// endpoint, including timeouts.
type FetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) IsTransient() bool {
	return true
}

// ServiceError represents an explicit exception returned by the remote
// WFS service. These arrive with HTTP 200 and an embedded XML error, so
// they are detected by body inspection, not status code.
type ServiceError struct {
	Source  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("WFS service error from %s: %s", e.Source, e.Message)
}

func (e *ServiceError) IsTransient() bool {
	return true
}

// ParseError represents a response body that matched none of the
// parsing strategies (not JSON, not recognizable GML).
type ParseError struct {
	Source string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse response from %s: %s", e.Source, e.Reason)
}

func (e *ParseError) IsTransient() bool {
	return false
}

// TransactionError represents a write-phase failure. The entire write
// transaction is rolled back; the queue's own retry policy may rerun
// the job, but the orchestrator never retries internally.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed during %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func (e *TransactionError) IsTransient() bool {
	return false
}

// TransientError is implemented by errors that are safe to retry.
type TransientError interface {
	error
	IsTransient() bool
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	te, ok := err.(TransientError)
	return ok && te.IsTransient()
}
