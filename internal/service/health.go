package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/argusai/testrun-investigator/internal/metrics"
)

// HealthStatus is the outcome of a store probe.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthUnreachable HealthStatus = "unreachable"
)

// Health is a probe result.
type Health struct {
	Status       HealthStatus `json:"status"`
	Endpoint     string       `json:"endpoint"`
	Reason       string       `json:"reason,omitempty"`
	Instructions string       `json:"instructions,omitempty"`
	CheckedAt    time.Time    `json:"checked_at"`
	LatencyMs    int64        `json:"latency_ms"`
}

// Healthy reports whether the store answered.
func (h Health) Healthy() bool {
	return h.Status == HealthHealthy
}

// Err converts an unreachable result into a *BackendUnreachableError.
func (h Health) Err() error {
	if h.Healthy() {
		return nil
	}
	return &BackendUnreachableError{Endpoint: h.Endpoint, Reason: h.Reason, Instructions: h.Instructions}
}

type healthProber interface {
	Health(ctx context.Context) error
	Endpoint() string
}

// HealthChecker probes the log store before ingestion starts.
type HealthChecker struct {
	store   healthProber
	dataDir string
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewHealthChecker creates a checker. dataDir is the host directory
// suggested for the store's data volume in setup instructions.
func NewHealthChecker(store healthProber, dataDir string, collector *metrics.Collector, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{store: store, dataDir: dataDir, metrics: collector, logger: logger}
}

// Probe checks the store once. It never returns an error; failures are
// reported in the Health value.
func (h *HealthChecker) Probe(ctx context.Context) Health {
	start := time.Now()
	err := h.store.Health(ctx)
	elapsed := time.Since(start)
	h.metrics.Record(metrics.OpProbe, elapsed, 0, err)

	res := Health{
		Status:    HealthHealthy,
		Endpoint:  h.store.Endpoint(),
		CheckedAt: start.UTC(),
		LatencyMs: elapsed.Milliseconds(),
	}
	if err != nil {
		res.Status = HealthUnreachable
		res.Reason = err.Error()
		res.Instructions = SetupInstructions(res.Endpoint, h.dataDir)
		h.logger.Warn("victorialogs health probe failed", "endpoint", res.Endpoint, "error", err)
	}
	return res
}

// SetupInstructions returns how to start a local VictoriaLogs matching
// endpoint, storing data under dataDir.
func SetupInstructions(endpoint, dataDir string) string {
	port := "9428"
	if u, err := url.Parse(endpoint); err == nil && u.Port() != "" {
		port = u.Port()
	}
	if dataDir == "" {
		dataDir = "$(pwd)/cache/victoria-logs-data"
	}
	return fmt.Sprintf(`VictoriaLogs is not reachable at %s.

Start it with Docker:

  docker run -d --name victoria-logs -p %s:9428 -v %s:/victoria-logs-data victoriametrics/victoria-logs

Then set VICTORIA_LOGS_ENDPOINT if it listens somewhere else and retry.`, endpoint, port, dataDir)
}
