package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_logs",
		Description: "Download a tar.zst test-run log archive and ingest actions.log and raw_events.log into VictoriaLogs in the background. Returns a task_id to poll, or setup instructions when VictoriaLogs is not running",
	}, NewIngestLogsHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_ingestion_status",
		Description: "Check the status (pending, running, completed, failed) and progress of a log ingestion task",
	}, NewCheckIngestionStatusHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_ingestion_tasks",
		Description: "List known ingestion tasks, most recent first, optionally filtered by run or status",
	}, NewListIngestionTasksHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_actions_log",
		Description: "Query actions.log entries of a test run in time order. Time range is [start_time, end_time). Output lines are T:time|S:source|M:action|TG:target|ST:status",
	}, NewQueryActionsLogHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_raw_events_log",
		Description: "Find one event in raw_events.log of a test run by event_id",
	}, NewQueryRawEventsLogHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_logs_by_stream",
		Description: "Query the action or events stream of a test run in time order with optional time range, limit and severity filter",
	}, NewQueryLogsByStreamHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "store_health",
		Description: "Probe VictoriaLogs and return setup instructions when it is not reachable",
	}, NewStoreHealthHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingestion_stats",
		Description: "Task counts by status and download, extract, push and query timings",
	}, NewIngestionStatsHandler(deps))
}
