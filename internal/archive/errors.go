package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDownload indicates the archive could not be fetched within the retry budget.
	ErrDownload = errors.New("download failed")

	// ErrExtraction indicates a corrupt or unsupported container.
	ErrExtraction = errors.New("extraction failed")

	// ErrRunLocked indicates another worker holds the run's cache directory.
	ErrRunLocked = errors.New("run cache is locked by another worker")
)

// DownloadError describes a failed download after retries.
type DownloadError struct {
	URL        string
	Attempts   int
	StatusCode int // last HTTP status, 0 for transport failures
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: HTTP %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("download %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() []error { return []error{ErrDownload, e.Err} }

// ExtractionError describes a container that could not be unpacked.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() []error { return []error{ErrExtraction, e.Err} }
