package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/argusai/testrun-investigator/internal/models"
	"github.com/argusai/testrun-investigator/internal/service"
)

// maxQueryLimit bounds query_logs_by_stream results.
const maxQueryLimit = 10000

// QueryActionsLogInput defines the input schema for the query_actions_log tool.
type QueryActionsLogInput struct {
	RunID     string `json:"run_id" jsonschema:"required,Test run identifier"`
	StartTime string `json:"start_time,omitempty" jsonschema:"Inclusive ISO 8601 range start, e.g. 2025-05-17T04:44:00Z"`
	EndTime   string `json:"end_time,omitempty" jsonschema:"Exclusive ISO 8601 range end"`
}

// NewQueryActionsLogHandler creates the query_actions_log tool handler.
func NewQueryActionsLogHandler(deps *Dependencies) mcp.ToolHandlerFor[QueryActionsLogInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryActionsLogInput) (
		*mcp.CallToolResult, any, error,
	) {
		tr, err := models.ParseTimeRange(input.StartTime, input.EndTime)
		if err != nil {
			return ErrorResult("Invalid parameters: "+err.Error(), "Use ISO 8601 timestamps such as 2025-05-17T04:44:00Z"), nil, nil
		}

		records, err := deps.Query.QueryActions(ctx, input.RunID, tr)
		if err != nil {
			return serviceError(err), nil, nil
		}

		actions := make([]string, 0, len(records))
		for _, rec := range records {
			if a, ok := rec.(*models.ActionRecord); ok {
				actions = append(actions, FormatAction(a))
			}
		}
		deps.Logger.Info("query_actions_log completed", "run_id", input.RunID, "results", len(actions))

		result := map[string]any{
			"status":  "success",
			"run_id":  input.RunID,
			"count":   len(actions),
			"actions": actions,
		}
		if len(actions) == 0 {
			result["message"] = "No actions matched the time range"
		}
		return JSONResult(result), nil, nil
	}
}

// QueryRawEventsLogInput defines the input schema for the query_raw_events_log tool.
type QueryRawEventsLogInput struct {
	RunID     string `json:"run_id" jsonschema:"required,Test run identifier"`
	EventID   string `json:"event_id" jsonschema:"required,Event identifier"`
	StartTime string `json:"start_time,omitempty" jsonschema:"Inclusive ISO 8601 range start"`
	EndTime   string `json:"end_time,omitempty" jsonschema:"Exclusive ISO 8601 range end"`
}

// NewQueryRawEventsLogHandler creates the query_raw_events_log tool handler.
func NewQueryRawEventsLogHandler(deps *Dependencies) mcp.ToolHandlerFor[QueryRawEventsLogInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryRawEventsLogInput) (
		*mcp.CallToolResult, any, error,
	) {
		tr, err := models.ParseTimeRange(input.StartTime, input.EndTime)
		if err != nil {
			return ErrorResult("Invalid parameters: "+err.Error(), "Use ISO 8601 timestamps such as 2025-05-17T04:44:00Z"), nil, nil
		}

		rec, err := deps.Query.QueryEvent(ctx, input.RunID, input.EventID, tr)
		if err != nil {
			return serviceError(err), nil, nil
		}

		return JSONResult(map[string]any{
			"status":   "success",
			"run_id":   input.RunID,
			"event_id": input.EventID,
			"event":    rec.Fields(),
		}), nil, nil
	}
}

// QueryLogsByStreamInput defines the input schema for the query_logs_by_stream tool.
type QueryLogsByStreamInput struct {
	RunID      string `json:"run_id" jsonschema:"required,Test run identifier"`
	StreamType string `json:"stream_type" jsonschema:"required,Stream to read: action or events"`
	StartTime  string `json:"start_time,omitempty" jsonschema:"Inclusive ISO 8601 range start"`
	EndTime    string `json:"end_time,omitempty" jsonschema:"Exclusive ISO 8601 range end"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Max records 1-10000, default unlimited"`
	Severity   string `json:"severity,omitempty" jsonschema:"Only events with this severity, e.g. ERROR"`
}

// NewQueryLogsByStreamHandler creates the query_logs_by_stream tool handler.
func NewQueryLogsByStreamHandler(deps *Dependencies) mcp.ToolHandlerFor[QueryLogsByStreamInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryLogsByStreamInput) (
		*mcp.CallToolResult, any, error,
	) {
		stream, err := models.ParseStream(input.StreamType)
		if err != nil {
			return ErrorResult("Invalid parameters: "+err.Error(), "Use stream_type action or events"), nil, nil
		}
		if input.Limit < 0 || input.Limit > maxQueryLimit {
			return ErrorResult(fmt.Sprintf("Limit must be 1-%d", maxQueryLimit), "Reduce limit value"), nil, nil
		}
		tr, err := models.ParseTimeRange(input.StartTime, input.EndTime)
		if err != nil {
			return ErrorResult("Invalid parameters: "+err.Error(), "Use ISO 8601 timestamps such as 2025-05-17T04:44:00Z"), nil, nil
		}

		q := service.StreamQuery{
			RunID:  input.RunID,
			Stream: stream,
			Range:  tr,
			Limit:  input.Limit,
		}
		if input.Severity != "" {
			if stream != models.StreamEvents {
				return ErrorResult("severity applies to the events stream only", "Drop severity or use stream_type events"), nil, nil
			}
			q.Fields = map[string]string{"severity": strings.ToUpper(input.Severity)}
		}

		records, err := deps.Query.QueryByStream(ctx, q)
		if err != nil {
			return serviceError(err), nil, nil
		}
		deps.Logger.Info("query_logs_by_stream completed", "run_id", input.RunID, "stream", input.StreamType, "results", len(records))

		return JSONResult(map[string]any{
			"status":  "success",
			"run_id":  input.RunID,
			"stream":  string(stream),
			"count":   len(records),
			"records": formatRecords(records),
		}), nil, nil
	}
}
