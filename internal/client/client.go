// Package client provides an MCP client for a running investigator server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/argusai/testrun-investigator/internal/service"
)

// DefaultEndpoint is used when neither an endpoint nor
// INVESTIGATOR_SERVER_URL is set.
const DefaultEndpoint = "http://localhost:8484/mcp"

// ErrTool is wrapped by errors reported in a tool result.
var ErrTool = errors.New("tool error")

// ToolError is a tool result flagged as an error by the server.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return ErrTool }

// Client calls investigator tools on a remote server over streamable HTTP.
type Client struct {
	endpoint string
	session  *mcp.ClientSession
}

// Connect opens a session with the server at endpoint.
// If endpoint is empty, uses INVESTIGATOR_SERVER_URL or DefaultEndpoint.
func Connect(ctx context.Context, endpoint, version string) (*Client, error) {
	if endpoint == "" {
		endpoint = os.Getenv("INVESTIGATOR_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	c := mcp.NewClient(&mcp.Implementation{
		Name:    "investigator-cli",
		Version: version,
	}, nil)
	session, err := c.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: endpoint}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	return &Client{endpoint: endpoint, session: session}, nil
}

// Endpoint returns the server URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

// Call invokes tool with args and decodes its JSON text result into result.
// A result flagged as an error is returned as *ToolError.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any, result any) error {
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return fmt.Errorf("call %s: %w", tool, err)
	}

	var text strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return &ToolError{Tool: tool, Message: text.String()}
	}

	if result != nil {
		if err := json.Unmarshal([]byte(text.String()), result); err != nil {
			return fmt.Errorf("decode %s result: %w", tool, err)
		}
	}
	return nil
}

// Ingest starts ingestion of the archive at downloadURL and returns the task id.
func (c *Client) Ingest(ctx context.Context, downloadURL, runID string) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	err := c.Call(ctx, "ingest_logs", map[string]any{
		"download_url": downloadURL,
		"run_id":       runID,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// GetTask returns the current state of a task.
func (c *Client) GetTask(ctx context.Context, id string) (service.Task, error) {
	var task service.Task
	err := c.Call(ctx, "check_ingestion_status", map[string]any{"task_id": id}, &task)
	return task, err
}

// ListTasks returns known tasks, optionally filtered by run and status.
func (c *Client) ListTasks(ctx context.Context, runID, status string) ([]service.Task, error) {
	args := map[string]any{}
	if runID != "" {
		args["run_id"] = runID
	}
	if status != "" {
		args["status"] = status
	}
	var out struct {
		Tasks []service.Task `json:"tasks"`
	}
	if err := c.Call(ctx, "list_ingestion_tasks", args, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}
