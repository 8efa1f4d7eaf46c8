package service

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusai/testrun-investigator/internal/archive/archivetest"
	"github.com/argusai/testrun-investigator/internal/models"
	"github.com/argusai/testrun-investigator/internal/victorialogs/vltest"
)

const startAction = `{"datetime":"2025-05-17T04:44:04Z","status":"info","source":"tester","action":"start","target":"node-1"}`

const eventsFixture = `{"base":"b","type":"DatabaseEvent","event_timestamp":1747457044.123456,"severity":"ERROR","event_id":"e1","node":"node-1","line":"boom"}
{"base":"b","type":"DatabaseEvent","event_timestamp":1747457045,"severity":"NORMAL","event_id":"e2","node":"node-2","line":"ok"}
{"base":"b","event_id":"e3"}
`

func TestIngestRoundTrip(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)
	url := serveArchive(t, map[string]string{
		"run/actions.log":    startAction + "\n",
		"run/raw_events.log": eventsFixture,
	})

	task, err := svc.Ingest.Ingest(t.Context(), url, "r1")
	require.NoError(t, err)
	assert.Contains(t, []TaskStatus{TaskStatusPending, TaskStatusRunning}, task.Status)

	done := waitForTerminal(t, svc, task.ID)
	require.Equal(t, TaskStatusCompleted, done.Status, done.Error)
	assert.Equal(t, 3, done.Progress.RecordsIngested)
	assert.Equal(t, 1, done.Progress.Warnings)
	assert.False(t, done.Progress.CacheHit)
	assert.Equal(t, StagePush, done.Progress.Stage)
	assert.Equal(t, 2, done.Progress.FilesTotal)
	assert.Equal(t, 2, done.Progress.FilesDone)

	records, err := svc.Query.QueryActions(t.Context(), "r1", models.TimeRange{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, &models.ActionRecord{
		Datetime: time.Date(2025, 5, 17, 4, 44, 4, 0, time.UTC),
		Status:   "info",
		Source:   "tester",
		Action:   "start",
		Target:   "node-1",
	}, records[0])

	records, err = svc.Query.QueryActions(t.Context(), "r1", models.TimeRange{End: ts("2025-05-17T04:44:04Z")})
	require.NoError(t, err, "a run with records yields zero matches, not an error")
	assert.Empty(t, records)

	ev, err := svc.Query.QueryEvent(t.Context(), "r1", "e1", models.TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, &models.EventRecord{
		Base:           "b",
		Type:           "DatabaseEvent",
		EventTimestamp: time.UnixMicro(1747457044123456).UTC(),
		Severity:       "ERROR",
		EventID:        "e1",
		Node:           "node-1",
		Line:           "boom",
	}, ev)

	for _, row := range store.Rows() {
		assert.Equal(t, "r1", row["run_id"])
		assert.Contains(t, []string{"action", "events"}, row["stream"])
	}
}

func TestIngestBackendUnreachable(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)
	store.SetHealthy(false)

	_, err := svc.Ingest.Ingest(t.Context(), "http://x", "r2")
	require.ErrorIs(t, err, ErrBackendUnreachable)

	var bu *BackendUnreachableError
	require.True(t, errors.As(err, &bu))
	assert.Contains(t, bu.Instructions, "docker run -d --name victoria-logs")
	assert.Contains(t, bu.Instructions, "victoriametrics/victoria-logs")

	assert.Empty(t, svc.Ingest.List())
	_, ok := svc.Tasks.ActiveFor("r2")
	assert.False(t, ok)
	_, err = svc.Ingest.Status("any-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIngestInvalidArguments(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)

	tests := []struct {
		name, url, runID string
	}{
		{"empty run id", "http://x/a", ""},
		{"path traversal", "http://x/a", "../etc"},
		{"bad scheme", "file:///tmp/a", "r1"},
		{"relative url", "/tmp/a", "r1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest.Ingest(t.Context(), tt.url, tt.runID)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	assert.Empty(t, svc.Ingest.List())
	assert.Equal(t, 0, store.Pushes())
}

func TestIngestWellFormedAndMalformedLines(t *testing.T) {
	const n, m = 7, 4
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, `{"datetime":"2025-05-17T04:44:%02dZ","status":"info","source":"s","action":"a%d","target":"t"}`+"\n", i, i)
		if i < m {
			b.WriteString("{broken\n")
		}
	}

	store := vltest.New(t)
	svc := newTestService(t, store)
	url := serveArchive(t, map[string]string{"actions.log": b.String()})

	task, err := svc.Ingest.Ingest(t.Context(), url, "r1")
	require.NoError(t, err)
	done := waitForTerminal(t, svc, task.ID)
	require.Equal(t, TaskStatusCompleted, done.Status, done.Error)
	assert.Equal(t, n, done.Progress.RecordsIngested)
	assert.Equal(t, m, done.Progress.Warnings)
	assert.Equal(t, 4, done.Progress.BatchesPushed) // batch size 2
	assert.Len(t, store.Rows(), n)
}

func TestIngestDuplicateActiveTask(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)

	release := make(chan struct{})
	data := archivetest.Build(t, map[string]string{"actions.log": startAction + "\n"})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write(data)
	}))
	t.Cleanup(slow.Close)
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	first, err := svc.Ingest.Ingest(t.Context(), slow.URL, "r1")
	require.NoError(t, err)

	_, err = svc.Ingest.Ingest(t.Context(), slow.URL, "r1")
	require.ErrorIs(t, err, ErrDuplicateActiveTask)

	once.Do(func() { close(release) })
	done := waitForTerminal(t, svc, first.ID)
	require.Equal(t, TaskStatusCompleted, done.Status, done.Error)

	again, err := svc.Ingest.Ingest(t.Context(), slow.URL, "r1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
	waitForTerminal(t, svc, again.ID)
}

func TestIngestConcurrentRequestsForSameRun(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)
	url := serveArchive(t, map[string]string{"actions.log": startAction + "\n"})

	const n = 8
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		rejected atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ingest.Ingest(t.Context(), url, "r1")
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrDuplicateActiveTask):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	// A task may finish before a late caller arrives, so more than one can
	// be accepted, but every call is either accepted or rejected.
	assert.GreaterOrEqual(t, accepted.Load(), int32(1))
	assert.Equal(t, int32(n), accepted.Load()+rejected.Load())
	for _, task := range svc.Ingest.List() {
		waitForTerminal(t, svc, task.ID)
	}
}

func TestIngestDownloadFailureFailsTask(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	task, err := svc.Ingest.Ingest(t.Context(), srv.URL+"/missing.tar.zst", "r1")
	require.NoError(t, err, "worker errors are not returned to the caller")

	done := waitForTerminal(t, svc, task.ID)
	assert.Equal(t, TaskStatusFailed, done.Status)
	assert.Contains(t, done.Error, "404")
	assert.Equal(t, int32(3), hits.Load())

	again, err := svc.Ingest.Status(task.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Status, again.Status)
	assert.Equal(t, done.Error, again.Error)
}

func TestIngestCorruptArchiveFailsTask(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not zstd"))
	}))
	t.Cleanup(srv.Close)

	task, err := svc.Ingest.Ingest(t.Context(), srv.URL, "r1")
	require.NoError(t, err)
	done := waitForTerminal(t, svc, task.ID)
	assert.Equal(t, TaskStatusFailed, done.Status)
	assert.Contains(t, done.Error, "extract")
}

func TestIngestRecoversFromCorruptArchive(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)

	files := map[string]string{"actions.log": startAction + "\n"}
	corrupt := archivetest.BuildCorrupt(t, files)
	valid := archivetest.Build(t, files)

	var hits atomic.Int32
	var fixed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fixed.Load() {
			_, _ = w.Write(valid)
			return
		}
		_, _ = w.Write(corrupt)
	}))
	t.Cleanup(srv.Close)

	first, err := svc.Ingest.Ingest(t.Context(), srv.URL, "r1")
	require.NoError(t, err)
	failed := waitForTerminal(t, svc, first.ID)
	require.Equal(t, TaskStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "invalid tar header")
	assert.Zero(t, store.Pushes(), "partial extraction must not be pushed")
	assert.False(t, svc.Cache.HasArchive("r1"), "corrupt archive is discarded")
	_, cached := svc.Cache.Lookup("r1")
	assert.False(t, cached, "no extracted logs after a failed extraction")

	fixed.Store(true)
	second, err := svc.Ingest.Ingest(t.Context(), srv.URL, "r1")
	require.NoError(t, err)
	done := waitForTerminal(t, svc, second.ID)
	require.Equal(t, TaskStatusCompleted, done.Status)
	assert.False(t, done.Progress.CacheHit)
	assert.Equal(t, 1, done.Progress.RecordsIngested)
	assert.Equal(t, int32(2), hits.Load())
}

func TestIngestFileReadErrorFails(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)

	err := svc.Ingest.ingestFile(t.Context(), Task{ID: "t1", RunID: "r1"}, models.StreamAction, t.TempDir())
	require.Error(t, err, "an unreadable log file is an I/O failure, not a parse warning")
	assert.Zero(t, store.Pushes())
}

func TestIngestPushFailureFailsTask(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)
	store.FailPushes(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	url := serveArchive(t, map[string]string{"actions.log": startAction + "\n"})

	task, err := svc.Ingest.Ingest(t.Context(), url, "r1")
	require.NoError(t, err)
	done := waitForTerminal(t, svc, task.ID)
	assert.Equal(t, TaskStatusFailed, done.Status)
	assert.Contains(t, done.Error, "HTTP 503")
	assert.Equal(t, 3, store.Pushes())
}

func TestIngestReusesCache(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)

	var hits atomic.Int32
	data := archivetest.Build(t, map[string]string{"actions.log": startAction + "\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	first, err := svc.Ingest.Ingest(t.Context(), srv.URL, "r1")
	require.NoError(t, err)
	require.Equal(t, TaskStatusCompleted, waitForTerminal(t, svc, first.ID).Status)

	second, err := svc.Ingest.Ingest(t.Context(), srv.URL, "r1")
	require.NoError(t, err)
	done := waitForTerminal(t, svc, second.ID)
	require.Equal(t, TaskStatusCompleted, done.Status)
	assert.True(t, done.Progress.CacheHit)
	assert.Equal(t, int32(1), hits.Load())

	snap := svc.Metrics.Snapshot()
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
	require.NotNil(t, snap.Download)
	assert.Equal(t, int64(1), snap.Download.Count)
}

func TestIngestArchiveWithoutLogsCompletes(t *testing.T) {
	store := vltest.New(t)
	svc := newTestService(t, store)
	url := serveArchive(t, map[string]string{"README": "nothing here"})

	task, err := svc.Ingest.Ingest(t.Context(), url, "r1")
	require.NoError(t, err)
	done := waitForTerminal(t, svc, task.ID)
	assert.Equal(t, TaskStatusCompleted, done.Status)
	assert.Equal(t, 0, done.Progress.RecordsIngested)
	assert.Equal(t, 0, done.Progress.FilesTotal)
	assert.FileExists(t, filepath.Join(svc.Cache.Dir("r1"), "archive.tar.zst"))
}

func TestIngestAfterCloseFailsTask(t *testing.T) {
	store := vltest.New(t)
	svc, err := New(testConfig(t, store.URL), discardLogger())
	require.NoError(t, err)
	require.NoError(t, svc.Close(t.Context()))

	_, err = svc.Ingest.Ingest(t.Context(), "http://x/a", "r1")
	require.ErrorIs(t, err, ErrClosed)

	tasks := svc.Ingest.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskStatusFailed, tasks[0].Status)
	_, ok := svc.Tasks.ActiveFor("r1")
	assert.False(t, ok)
}

func TestNewRejectsBadConfig(t *testing.T) {
	store := vltest.New(t)

	cfg := testConfig(t, store.URL)
	cfg.Workers = 0
	_, err := New(cfg, discardLogger())
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = testConfig(t, "localhost:9428")
	_, err = New(cfg, discardLogger())
	assert.ErrorIs(t, err, ErrConfiguration)

	cfg = testConfig(t, store.URL)
	cfg.CacheDir = filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(cfg.CacheDir, []byte("x"), 0o644))
	_, err = New(cfg, discardLogger())
	assert.ErrorIs(t, err, ErrConfiguration)
}
