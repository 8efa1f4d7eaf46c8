package victorialogs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for store operations.
var (
	// ErrUnreachable indicates the store did not answer a health probe.
	ErrUnreachable = errors.New("victorialogs unreachable")

	// ErrPush indicates a batch was rejected or could not be delivered.
	ErrPush = errors.New("push failed")

	// ErrQuery indicates a query could not be executed.
	ErrQuery = errors.New("query failed")
)

// PushError describes a failed ingestion request.
type PushError struct {
	Stream     string
	StatusCode int // 0 for transport failures
	Message    string
	Err        error
}

func (e *PushError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push %s batch: HTTP %d: %s", e.Stream, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("push %s batch: %v", e.Stream, e.Err)
}

func (e *PushError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPush}
	}
	return []error{ErrPush, e.Err}
}

// Retryable reports whether the failure may succeed on a later attempt:
// transport errors, timeouts, throttling and server errors.
func (e *PushError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// QueryError describes a failed LogsQL query.
type QueryError struct {
	Query      string
	StatusCode int
	Message    string
	Err        error
}

func (e *QueryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("query %q: HTTP %d: %s", e.Query, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrQuery}
	}
	return []error{ErrQuery, e.Err}
}
