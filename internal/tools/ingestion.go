package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/argusai/testrun-investigator/internal/service"
)

// IngestLogsInput defines the input schema for the ingest_logs tool.
type IngestLogsInput struct {
	DownloadURL string `json:"download_url" jsonschema:"required,URL of the tar.zst archive holding actions.log and raw_events.log"`
	RunID       string `json:"run_id" jsonschema:"required,Test run identifier"`
}

// IngestLogsResult is returned when ingestion was scheduled.
type IngestLogsResult struct {
	Status  string `json:"status"`
	TaskID  string `json:"task_id"`
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// NewIngestLogsHandler creates the ingest_logs tool handler.
// Ingestion runs in the background; the result carries the task id to poll.
func NewIngestLogsHandler(deps *Dependencies) mcp.ToolHandlerFor[IngestLogsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestLogsInput) (
		*mcp.CallToolResult, any, error,
	) {
		task, err := deps.Ingest.Ingest(ctx, input.DownloadURL, input.RunID)
		if err != nil {
			deps.Logger.Warn("ingest_logs rejected", "run_id", input.RunID, "error", err)
			if active, ok := deps.Ingest.Active(input.RunID); ok && errors.Is(err, service.ErrDuplicateActiveTask) {
				return ErrorResult(
					fmt.Sprintf("Ingestion already %s for run %s", active.Status, active.RunID),
					fmt.Sprintf("Poll check_ingestion_status with task_id %s instead of starting another", active.ID),
				), nil, nil
			}
			return serviceError(err), nil, nil
		}

		return JSONResult(IngestLogsResult{
			Status:  "ingestion_started",
			TaskID:  task.ID,
			RunID:   task.RunID,
			Message: fmt.Sprintf("Log ingestion started for run %s. Use check_ingestion_status with task_id to monitor progress.", task.RunID),
		}), nil, nil
	}
}

// CheckIngestionStatusInput defines the input schema for the check_ingestion_status tool.
type CheckIngestionStatusInput struct {
	TaskID string `json:"task_id" jsonschema:"required,Task id returned by ingest_logs"`
}

// NewCheckIngestionStatusHandler creates the check_ingestion_status tool handler.
func NewCheckIngestionStatusHandler(deps *Dependencies) mcp.ToolHandlerFor[CheckIngestionStatusInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CheckIngestionStatusInput) (
		*mcp.CallToolResult, any, error,
	) {
		if input.TaskID == "" {
			return ErrorResult("task_id cannot be empty", "Provide the task_id returned by ingest_logs"), nil, nil
		}
		task, err := deps.Ingest.Status(input.TaskID)
		if err != nil {
			return ErrorResult("Task not found: "+input.TaskID, "Use list_ingestion_tasks to see known tasks"), nil, nil
		}
		return JSONResult(task), nil, nil
	}
}

// ListIngestionTasksInput defines the input schema for the list_ingestion_tasks tool.
type ListIngestionTasksInput struct {
	RunID  string `json:"run_id,omitempty" jsonschema:"Only tasks for this run"`
	Status string `json:"status,omitempty" jsonschema:"Only tasks in this status: pending, running, completed or failed"`
}

// NewListIngestionTasksHandler creates the list_ingestion_tasks tool handler.
func NewListIngestionTasksHandler(deps *Dependencies) mcp.ToolHandlerFor[ListIngestionTasksInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListIngestionTasksInput) (
		*mcp.CallToolResult, any, error,
	) {
		switch service.TaskStatus(input.Status) {
		case "", service.TaskStatusPending, service.TaskStatusRunning, service.TaskStatusCompleted, service.TaskStatusFailed:
		default:
			return ErrorResult("Unknown status "+input.Status, "Use pending, running, completed or failed"), nil, nil
		}

		tasks := []service.Task{}
		for _, t := range deps.Ingest.List() {
			if input.RunID != "" && t.RunID != input.RunID {
				continue
			}
			if input.Status != "" && string(t.Status) != input.Status {
				continue
			}
			tasks = append(tasks, t)
		}
		return JSONResult(map[string]any{
			"count": len(tasks),
			"tasks": tasks,
		}), nil, nil
	}
}
