// Package archive downloads, unpacks and caches test-run log archives.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/argusai/testrun-investigator/internal/retry"
)

// chunkSize bounds the memory used while streaming an archive to disk.
const chunkSize = 32 * 1024

// Downloader streams remote archives to local files.
type Downloader struct {
	client  *http.Client
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// NewDownloader creates a downloader. timeout applies to each attempt.
func NewDownloader(client *http.Client, policy retry.Policy, timeout time.Duration, logger *slog.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client:  client,
		policy:  policy,
		timeout: timeout,
		logger:  logger,
	}
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}

// Download fetches url into dest and returns the number of bytes written.
// The body is written to dest+".part" and renamed on success, so dest never
// holds a truncated archive.
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}

	var written int64
	attempts, err := d.policy.Do(ctx, func(ctx context.Context) error {
		n, err := d.fetch(ctx, url, dest)
		written = n
		return err
	}, func(attempt int, err error, next time.Duration) {
		d.logger.Warn("download attempt failed, retrying",
			"url", url, "attempt", attempt, "retry_in", next, "error", err)
	})
	if err != nil {
		_ = os.Remove(dest + ".part")
		dlErr := &DownloadError{URL: url, Attempts: attempts, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			dlErr.StatusCode = se.code
		}
		return 0, dlErr
	}

	d.logger.Info("archive downloaded", "url", url, "path", dest, "size", humanize.Bytes(uint64(written)))
	return written, nil
}

func (d *Downloader) fetch(ctx context.Context, url, dest string) (int64, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("build request: %w", err))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, chunkSize))
		return 0, &statusError{code: resp.StatusCode}
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("create %s: %w", part, err))
	}

	n, err := io.CopyBuffer(f, resp.Body, make([]byte, chunkSize))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("write body: %w", err)
	}

	if err := os.Rename(part, dest); err != nil {
		return 0, retry.Permanent(fmt.Errorf("rename %s: %w", part, err))
	}
	return n, nil
}
