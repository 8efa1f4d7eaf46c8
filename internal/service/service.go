package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/argusai/testrun-investigator/internal/archive"
	"github.com/argusai/testrun-investigator/internal/metrics"
	"github.com/argusai/testrun-investigator/internal/parser"
	"github.com/argusai/testrun-investigator/internal/retry"
	"github.com/argusai/testrun-investigator/internal/victorialogs"
)

// Config holds the settings needed to assemble the services.
type Config struct {
	CacheDir        string
	Workers         int
	Retry           retry.Policy
	BatchSize       int
	MaxWarningLogs  int
	MaxLineBytes    int
	DownloadTimeout time.Duration
	QueryTimeout    time.Duration
	TaskRetention   time.Duration
	// JanitorInterval is how often expired tasks are pruned. Zero means
	// TaskRetention/4, capped at one hour.
	JanitorInterval time.Duration
	// DownloadClient is used for archive downloads. Nil means a default client.
	DownloadClient *http.Client
	Store          victorialogs.Config
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache dir is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if c.DownloadTimeout <= 0 || c.QueryTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.TaskRetention <= 0 {
		errs = append(errs, fmt.Errorf("task retention must be positive, got %s", c.TaskRetention))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// Service bundles the ingestion and query services with their shared state.
type Service struct {
	Tasks   *TaskRegistry
	Health  *HealthChecker
	Ingest  *IngestService
	Query   *QueryService
	Cache   *archive.Cache
	Metrics *metrics.Collector

	pool      *WorkerPool
	stopJan   context.CancelFunc
	janDone   chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// New assembles all services from cfg and starts the task janitor. Call
// Close to release workers.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := victorialogs.New(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	cache, err := archive.NewCache(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	collector := metrics.NewCollector()
	tasks := NewTaskRegistry(logger)
	pool := NewWorkerPool(cfg.Workers, logger)
	dataDir, _ := filepath.Abs(filepath.Join(cfg.CacheDir, "victoria-logs-data"))
	health := NewHealthChecker(store, dataDir, collector, logger)
	streamer := NewStreamer(store, StreamerConfig{
		BatchSize:      cfg.BatchSize,
		Policy:         cfg.Retry,
		MaxWarningLogs: cfg.MaxWarningLogs,
	}, collector, logger)
	downloader := archive.NewDownloader(cfg.DownloadClient, cfg.Retry, cfg.DownloadTimeout, logger)

	svc := &Service{
		Tasks:   tasks,
		Health:  health,
		Cache:   cache,
		Metrics: collector,
		Ingest: NewIngestService(tasks, pool, health, cache, downloader, streamer,
			parser.Options{MaxLineBytes: cfg.MaxLineBytes}, collector, logger),
		Query:  NewQueryService(store, cfg.QueryTimeout, collector, logger),
		pool:   pool,
		logger: logger,
	}
	svc.startJanitor(cfg.TaskRetention, cfg.JanitorInterval)
	return svc, nil
}

func (s *Service) startJanitor(retention, interval time.Duration) {
	if interval <= 0 {
		interval = max(min(retention/4, time.Hour), time.Millisecond)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopJan = cancel
	s.janDone = make(chan struct{})

	go func() {
		defer close(s.janDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Tasks.Prune(now.Add(-retention))
			}
		}
	}()
}

// Close stops the janitor, aborts queued tasks and waits for running ones
// until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.stopJan()
		<-s.janDone
		err = s.pool.Close(ctx)
		s.logger.Info("services closed")
	})
	return err
}
