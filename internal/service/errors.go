package service

import (
	"errors"
	"fmt"

	"github.com/argusai/testrun-investigator/internal/archive"
	"github.com/argusai/testrun-investigator/internal/victorialogs"
)

// Sentinel errors for service operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfiguration indicates invalid settings at construction time.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrBackendUnreachable indicates the log store failed its health probe.
	ErrBackendUnreachable = errors.New("log store unreachable")

	// ErrNotFound indicates an unknown task or a missing record.
	ErrNotFound = errors.New("not found")

	// ErrRunNotIngested indicates the store holds no records for a run.
	ErrRunNotIngested = fmt.Errorf("run not ingested: %w", ErrNotFound)

	// ErrInvalidArgument indicates a malformed id, url, timestamp or range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateActiveTask indicates the run already has a pending or running task.
	ErrDuplicateActiveTask = errors.New("ingestion already in progress for run")

	// ErrInvalidTransition indicates an illegal task status change.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrClosed indicates the service is shutting down.
	ErrClosed = errors.New("service closed")
)

// Errors that originate in leaf packages.
var (
	ErrDownload   = archive.ErrDownload
	ErrExtraction = archive.ErrExtraction
	ErrPush       = victorialogs.ErrPush
	ErrQuery      = victorialogs.ErrQuery
)

// BackendUnreachableError carries the probe failure and setup guidance.
type BackendUnreachableError struct {
	Endpoint     string
	Reason       string
	Instructions string
}

func (e *BackendUnreachableError) Error() string {
	return fmt.Sprintf("victorialogs at %s is unreachable: %s", e.Endpoint, e.Reason)
}

func (e *BackendUnreachableError) Unwrap() error { return ErrBackendUnreachable }

func invalidArgument(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
}
