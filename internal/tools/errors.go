package tools

import (
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/argusai/testrun-investigator/internal/service"
	"github.com/argusai/testrun-investigator/internal/victorialogs"
)

// ErrorResult creates a tool error result with optional recovery hint.
// If hint is non-empty, formats as "{msg}. {hint}".
// Returns IsError=true so LLM can see the error and self-correct.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

// TextResult creates a success result with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// JSONResult creates a success result with indented JSON content.
func JSONResult(v any) *mcp.CallToolResult {
	jsonBytes, _ := json.MarshalIndent(v, "", "  ")
	return TextResult(string(jsonBytes))
}

// serviceError maps service errors to results that keep "store down",
// "run not ingested" and "nothing matched" apart.
func serviceError(err error) *mcp.CallToolResult {
	var bu *service.BackendUnreachableError
	switch {
	case errors.As(err, &bu):
		return ErrorResult("VictoriaLogs is not running: "+bu.Reason, bu.Instructions)
	case errors.Is(err, service.ErrInvalidArgument):
		return ErrorResult("Invalid parameters: "+err.Error(),
			"Check run_id, event_id, stream_type and ISO 8601 timestamps such as 2025-05-17T04:44:00Z")
	case errors.Is(err, service.ErrDuplicateActiveTask):
		return ErrorResult(err.Error(), "Poll check_ingestion_status for the running task instead of starting another")
	case errors.Is(err, service.ErrRunNotIngested):
		return ErrorResult("No logs ingested for this run: "+err.Error(),
			"Use ingest_logs to download and ingest the run's logs first")
	case errors.Is(err, service.ErrNotFound):
		return ErrorResult("Not found: "+err.Error(), "")
	case errors.Is(err, service.ErrQuery) && victorialogs.IsUnreachable(err):
		return ErrorResult("VictoriaLogs is unreachable: "+err.Error(), "Use store_health for setup instructions")
	case errors.Is(err, service.ErrQuery):
		return ErrorResult("Query error: "+err.Error(), "")
	case errors.Is(err, service.ErrClosed):
		return ErrorResult("Server is shutting down", "Retry after restart")
	default:
		return ErrorResult("Unexpected error: "+err.Error(), "")
	}
}
