package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusai/testrun-investigator/internal/archive/archivetest"
	"github.com/argusai/testrun-investigator/internal/service"
	"github.com/argusai/testrun-investigator/internal/victorialogs/vltest"
)

func TestTaskFraction(t *testing.T) {
	running := func(p service.Progress) service.Task {
		return service.Task{Status: service.TaskStatusRunning, Progress: p}
	}
	tests := []struct {
		name string
		task service.Task
		want float64
	}{
		{"pending", service.Task{Status: service.TaskStatusPending}, 0},
		{"running without stage", running(service.Progress{}), 0.05},
		{"downloading", running(service.Progress{Stage: service.StageDownload}), 0.1},
		{"extracting", running(service.Progress{Stage: service.StageExtract}), 0.25},
		{"pushing first of two", running(service.Progress{Stage: service.StagePush, FilesTotal: 2}), 0.3},
		{"pushing second of two", running(service.Progress{Stage: service.StagePush, FilesTotal: 2, FilesDone: 1}), 0.65},
		{"completed", service.Task{Status: service.TaskStatusCompleted}, 1},
		{"failed", service.Task{Status: service.TaskStatusFailed}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, taskFraction(tt.task), 1e-9)
		})
	}
}

func TestTaskError(t *testing.T) {
	assert.NoError(t, taskError(service.Task{Status: service.TaskStatusCompleted}))
	assert.EqualError(t, taskError(service.Task{Status: service.TaskStatusFailed, Error: "download: 404"}), "download: 404")
	assert.EqualError(t, taskError(service.Task{Status: service.TaskStatusFailed}), "task failed with unknown error")
}

func TestPollTask(t *testing.T) {
	states := []service.Task{
		{ID: "t1", Status: service.TaskStatusPending},
		{ID: "t1", Status: service.TaskStatusPending},
		{ID: "t1", Status: service.TaskStatusRunning, Progress: service.Progress{Stage: service.StageDownload}},
		{ID: "t1", Status: service.TaskStatusCompleted, Progress: service.Progress{RecordsIngested: 7}},
	}
	calls := 0
	fetch := func(context.Context, string) (service.Task, error) {
		task := states[min(calls, len(states)-1)]
		calls++
		return task, nil
	}

	var buf bytes.Buffer
	done, err := pollTask(t.Context(), &buf, fetch, "t1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 7, done.Progress.RecordsIngested)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "unchanged states are printed once")
	assert.True(t, strings.HasPrefix(lines[0], "[pending]"))
	assert.True(t, strings.HasPrefix(lines[1], "[download]"))
	assert.True(t, strings.HasPrefix(lines[2], "[completed] 100%"))
}

func TestPollTaskFailure(t *testing.T) {
	fetch := func(context.Context, string) (service.Task, error) {
		return service.Task{Status: service.TaskStatusFailed, Error: "push failed"}, nil
	}
	_, err := pollTask(t.Context(), &bytes.Buffer{}, fetch, "t1", time.Millisecond)
	assert.EqualError(t, err, "push failed")

	boom := errors.New("connection refused")
	fetch = func(context.Context, string) (service.Task, error) { return service.Task{}, boom }
	_, err = pollTask(t.Context(), &bytes.Buffer{}, fetch, "t1", time.Millisecond)
	assert.ErrorIs(t, err, boom)
}

func TestPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	printTasks(&buf, nil)
	assert.Equal(t, "No tasks found\n", buf.String())

	buf.Reset()
	printTasks(&buf, []service.Task{{ID: "t1", RunID: "r1", Status: service.TaskStatusRunning}})
	assert.Contains(t, buf.String(), "r1")
	assert.Contains(t, buf.String(), "running")
}

func TestDescribeErrorAddsInstructions(t *testing.T) {
	err := describeError(&service.BackendUnreachableError{
		Endpoint:     "http://localhost:9428",
		Reason:       "connection refused",
		Instructions: "docker run -d --name victoria-logs",
	})
	assert.ErrorIs(t, err, service.ErrBackendUnreachable)
	assert.Contains(t, err.Error(), "docker run -d --name victoria-logs")

	plain := errors.New("other")
	assert.Equal(t, plain, describeError(plain))
}

// execute runs the root command with args against the given store.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := ExecuteContext(t.Context())
	return buf.String(), err
}

func TestCommandsEndToEnd(t *testing.T) {
	store := vltest.New(t)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("INVESTIGATOR_CONFIG", "")
	t.Setenv("VICTORIA_LOGS_ENDPOINT", store.URL)
	t.Setenv("INVESTIGATOR_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("INVESTIGATOR_LOG_FILE", filepath.Join(dir, "investigator.log"))
	t.Setenv("INVESTIGATOR_LOG_LEVEL", "error")

	data := archivetest.Build(t, map[string]string{
		"actions.log": `{"datetime":"2025-05-17T04:44:04Z","status":"info","source":"tester","action":"start","target":"node-1"}
{"datetime":"2025-05-17T04:44:05Z","source":"tester","action":"stop"}
`,
		"raw_events.log": `{"base":"b","type":"DatabaseEvent","event_timestamp":1747457044.5,"severity":"ERROR","event_id":"e1","node":"n1","line":"boom"}` + "\n",
	})
	archiveSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	t.Cleanup(archiveSrv.Close)

	out, err := execute(t, "ingest", archiveSrv.URL+"/logs.tar.zst", "r1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Ingestion started")
	assert.Contains(t, out, "Records ingested:  3")

	out, err = execute(t, "query", "actions", "r1")
	require.NoError(t, err, out)
	assert.Equal(t,
		"T:2025-05-17T04:44:04Z|S:tester|M:start|TG:node-1|ST:info\nT:2025-05-17T04:44:05Z|S:tester|M:stop\n",
		out)

	out, err = execute(t, "query", "events", "r1", "e1", "--json")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"line":"boom"`)

	out, err = execute(t, "query", "stream", "r1", "action", "--limit", "1", "--json")
	require.NoError(t, err, out)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, `"action":"start"`)

	_, err = execute(t, "query", "actions", "r9", "--json=false")
	assert.ErrorIs(t, err, service.ErrRunNotIngested)

	out, err = execute(t, "cache", "ls")
	require.NoError(t, err, out)
	assert.Contains(t, out, "r1")

	out, err = execute(t, "cache", "rm", "r1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "r1: removed")

	out, err = execute(t, "health")
	require.NoError(t, err, out)
	assert.Contains(t, out, "healthy")

	store.SetHealthy(false)
	_, err = execute(t, "ingest", archiveSrv.URL+"/logs.tar.zst", "r2")
	require.ErrorIs(t, err, service.ErrBackendUnreachable)
	assert.Contains(t, err.Error(), "victoriametrics/victoria-logs")

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "investigator "+Version+"\n", out)
}
