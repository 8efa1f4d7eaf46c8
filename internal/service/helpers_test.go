package service

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argusai/testrun-investigator/internal/archive/archivetest"
	"github.com/argusai/testrun-investigator/internal/retry"
	"github.com/argusai/testrun-investigator/internal/victorialogs"
	"github.com/argusai/testrun-investigator/internal/victorialogs/vltest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
}

func testConfig(t *testing.T, endpoint string) Config {
	t.Helper()
	return Config{
		CacheDir:        t.TempDir(),
		Workers:         2,
		Retry:           fastPolicy(),
		BatchSize:       2,
		MaxWarningLogs:  5,
		DownloadTimeout: 5 * time.Second,
		QueryTimeout:    5 * time.Second,
		TaskRetention:   time.Hour,
		Store: victorialogs.Config{
			Endpoint:      endpoint,
			HealthTimeout: time.Second,
			PushTimeout:   time.Second,
			Compression:   victorialogs.CompressionGzip,
		},
	}
}

func newTestService(t *testing.T, store *vltest.Server) *Service {
	t.Helper()
	svc, err := New(testConfig(t, store.URL), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc
}

// serveArchive serves a tar.zst fixture built from files and returns its URL.
func serveArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	data := archivetest.Build(t, files)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/logs.tar.zst"
}

func waitForTerminal(t *testing.T, svc *Service, taskID string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = svc.Ingest.Status(taskID)
		require.NoError(t, err)
		return task.Status.Terminal()
	}, 10*time.Second, 5*time.Millisecond)
	return task
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return &t
}
