package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusai/testrun-investigator/internal/server"
)

type echoInput struct {
	Text string `json:"text"`
	Fail bool   `json:"fail,omitempty"`
}

func echoHandler(ctx context.Context, req *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: in.Text}},
		IsError: in.Fail,
	}, nil, nil
}

// connect runs srv on in-memory transports and returns a client session.
func connect(t *testing.T, srv *server.Server) (*mcp.ClientSession, context.Context) {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.MCPServer().Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err, "client should connect successfully")

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case <-serverErr:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop within timeout")
		}
	})
	return session, ctx
}

func TestServerWithInMemoryTransport(t *testing.T) {
	srv := server.New("0.1.0-test", slog.New(slog.DiscardHandler))
	srv.Setup()

	session, ctx := connect(t, srv)

	initResult := session.InitializeResult()
	require.NotNil(t, initResult, "initialize result should not be nil")
	assert.Equal(t, "testrun-investigator", initResult.ServerInfo.Name)
	assert.Equal(t, "0.1.0-test", initResult.ServerInfo.Version)

	toolsResult, err := session.ListTools(ctx, nil)
	require.NoError(t, err, "ListTools should succeed")
	assert.Empty(t, toolsResult.Tools, "should have no tools registered")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	srv := server.New("0.1.0-test", logger)
	srv.Setup()
	mcp.AddTool(srv.MCPServer(), &mcp.Tool{Name: "echo", Description: "echo text"}, echoHandler)

	session, ctx := connect(t, srv)

	_, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	require.NoError(t, err)
	_, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "nope", "fail": true}})
	require.NoError(t, err)

	var completed, failed map[string]any
	for line := range bytes.Lines(buf.Bytes()) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["method"] != "tools/call" {
			continue
		}
		switch entry["msg"] {
		case "request completed":
			completed = entry
		case "tool returned error":
			failed = entry
		}
	}

	require.NotNil(t, completed, "successful call should be logged")
	assert.Equal(t, "echo", completed["tool"])
	assert.Contains(t, completed["params"], `"text":"hi"`)

	require.NotNil(t, failed, "tool error should be logged")
	assert.Equal(t, "WARN", failed["level"])
}

func TestHealthEndpoint(t *testing.T) {
	srv := server.New("0.1.0-test", slog.New(slog.DiscardHandler))

	tests := []struct {
		name     string
		healthy  bool
		wantCode int
	}{
		{"store reachable", true, http.StatusOK},
		{"store unreachable", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := srv.Handler(func(context.Context) (any, bool) {
				return map[string]bool{"healthy": tt.healthy}, tt.healthy
			})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body map[string]bool
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.healthy, body["healthy"])
		})
	}
}

func TestRunHTTPStopsOnCancel(t *testing.T) {
	srv := server.New("0.1.0-test", slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- srv.RunHTTP(ctx, "127.0.0.1:0", func(context.Context) (any, bool) { return nil, true })
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunHTTP did not return after cancel")
	}
}
