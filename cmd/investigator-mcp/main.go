// Package main provides the entry point for the investigator MCP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/argusai/testrun-investigator/internal/config"
	"github.com/argusai/testrun-investigator/internal/server"
	"github.com/argusai/testrun-investigator/internal/service"
	"github.com/argusai/testrun-investigator/internal/tools"
)

const version = "0.1.0"

// shutdownTimeout bounds waiting for running ingestion tasks.
const shutdownTimeout = 30 * time.Second

func main() {
	httpAddr := flag.String("http", "", "serve streamable HTTP on this address instead of stdio")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("investigator-mcp starting",
		"version", version,
		"victoria_logs", cfg.Endpoint,
		"cache_dir", cfg.CacheDir,
		"workers", cfg.Workers,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	svc, err := service.New(cfg.Service(), logger)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("waiting for running ingestion tasks")
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Warn("ingestion tasks did not finish", "error", err)
		}
	}()

	// Startup probe only logs; ingest_logs reports setup instructions itself.
	if h := svc.Health.Probe(ctx); !h.Healthy() {
		logger.Warn("victorialogs is not reachable", "endpoint", h.Endpoint, "reason", h.Reason)
	}

	// Create and setup server
	srv := server.New(version, logger)
	srv.Setup()
	tools.RegisterAll(srv.MCPServer(), tools.FromService(svc, logger))
	logger.Info("server ready, awaiting connections")

	// Run server (blocks until disconnect or context cancelled)
	if cfg.HTTPAddr != "" {
		err = srv.RunHTTP(ctx, cfg.HTTPAddr, func(ctx context.Context) (any, bool) {
			h := svc.Health.Probe(ctx)
			return h, h.Healthy()
		})
	} else {
		err = srv.Run(ctx)
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
