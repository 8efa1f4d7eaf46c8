// Package tools provides MCP tool handlers and registration.
package tools

import (
	"log/slog"

	"github.com/argusai/testrun-investigator/internal/metrics"
	"github.com/argusai/testrun-investigator/internal/service"
)

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Ingest  *service.IngestService
	Query   *service.QueryService
	Health  *service.HealthChecker
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// FromService collects the dependencies from an assembled service.
func FromService(svc *service.Service, logger *slog.Logger) *Dependencies {
	return &Dependencies{
		Ingest:  svc.Ingest,
		Query:   svc.Query,
		Health:  svc.Health,
		Metrics: svc.Metrics,
		Logger:  logger,
	}
}
