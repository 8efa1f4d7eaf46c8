package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/argusai/testrun-investigator/internal/service"
)

// StoreHealthInput defines the (empty) input schema for the store_health tool.
type StoreHealthInput struct{}

// NewStoreHealthHandler creates the store_health tool handler.
func NewStoreHealthHandler(deps *Dependencies) mcp.ToolHandlerFor[StoreHealthInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StoreHealthInput) (
		*mcp.CallToolResult, any, error,
	) {
		return JSONResult(deps.Health.Probe(ctx)), nil, nil
	}
}

// IngestionStatsInput defines the (empty) input schema for the ingestion_stats tool.
type IngestionStatsInput struct{}

// NewIngestionStatsHandler creates the ingestion_stats tool handler.
func NewIngestionStatsHandler(deps *Dependencies) mcp.ToolHandlerFor[IngestionStatsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestionStatsInput) (
		*mcp.CallToolResult, any, error,
	) {
		byStatus := map[service.TaskStatus]int{}
		for _, t := range deps.Ingest.List() {
			byStatus[t.Status]++
		}
		return JSONResult(map[string]any{
			"tasks":   byStatus,
			"metrics": deps.Metrics.Snapshot(),
		}), nil, nil
	}
}
