package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/argusai/testrun-investigator/internal/archive"
	"github.com/argusai/testrun-investigator/internal/metrics"
	"github.com/argusai/testrun-investigator/internal/models"
	"github.com/argusai/testrun-investigator/internal/parser"
)

// IngestService runs archive ingestion as background tasks.
type IngestService struct {
	tasks      *TaskRegistry
	pool       *WorkerPool
	health     *HealthChecker
	cache      *archive.Cache
	downloader *archive.Downloader
	streamer   *Streamer
	parseOpts  parser.Options
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// NewIngestService creates an ingest service from its collaborators.
func NewIngestService(
	tasks *TaskRegistry,
	pool *WorkerPool,
	health *HealthChecker,
	cache *archive.Cache,
	downloader *archive.Downloader,
	streamer *Streamer,
	parseOpts parser.Options,
	collector *metrics.Collector,
	logger *slog.Logger,
) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		tasks:      tasks,
		pool:       pool,
		health:     health,
		cache:      cache,
		downloader: downloader,
		streamer:   streamer,
		parseOpts:  parseOpts,
		metrics:    collector,
		logger:     logger,
	}
}

// Ingest validates the request, checks the store is up and schedules the
// download. It returns the pending task without waiting for any I/O beyond
// the health probe.
func (s *IngestService) Ingest(ctx context.Context, downloadURL, runID string) (Task, error) {
	if err := models.ValidateIdentifier("run_id", runID); err != nil {
		return Task{}, invalidArgument(err)
	}
	if err := models.ValidateDownloadURL(downloadURL); err != nil {
		return Task{}, invalidArgument(err)
	}

	if h := s.health.Probe(ctx); !h.Healthy() {
		return Task{}, h.Err()
	}

	t, err := s.tasks.Create(runID, downloadURL)
	if err != nil {
		return Task{}, err
	}

	err = s.pool.Submit(
		func(ctx context.Context) { s.run(ctx, t) },
		func(cause error) { s.abort(t.ID, cause) },
	)
	if err != nil {
		s.abort(t.ID, err)
		return Task{}, fmt.Errorf("schedule ingestion: %w", err)
	}
	return t, nil
}

// Status returns a snapshot of the task.
func (s *IngestService) Status(taskID string) (Task, error) {
	return s.tasks.Get(taskID)
}

// Active returns the pending or running task for runID, if any.
func (s *IngestService) Active(runID string) (Task, bool) {
	return s.tasks.ActiveFor(runID)
}

// List returns all known tasks, most recent first.
func (s *IngestService) List() []Task {
	return s.tasks.List()
}

func (s *IngestService) abort(taskID string, cause error) {
	if err := s.tasks.Fail(taskID, cause); err != nil {
		s.logger.Warn("failed to mark task failed", "task_id", taskID, "error", err)
	}
}

func (s *IngestService) run(ctx context.Context, t Task) {
	if err := s.tasks.SetRunning(t.ID); err != nil {
		s.logger.Warn("task not started", "task_id", t.ID, "error", err)
		return
	}

	logger := s.logger.With("task_id", t.ID, "run_id", t.RunID)
	logger.Info("ingestion started", "url", t.DownloadURL)
	start := time.Now()

	err := s.cache.WithRunLock(t.RunID, func() error {
		return s.pipeline(ctx, logger, t)
	})
	if err != nil {
		s.abort(t.ID, err)
		return
	}
	if err := s.tasks.Complete(t.ID); err != nil {
		logger.Warn("failed to mark task completed", "error", err)
		return
	}
	logger.Info("ingestion finished", "elapsed", time.Since(start).Round(time.Millisecond))
}

// pipeline runs download, extract, parse and push for one task. The caller
// holds the run's cache lock.
func (s *IngestService) pipeline(ctx context.Context, logger *slog.Logger, t Task) error {
	paths, err := s.prepare(ctx, logger, t)
	if err != nil {
		return err
	}
	s.setProgress(t.ID, func(p *Progress) {
		p.Stage = StagePush
		p.FilesTotal = len(paths)
	})

	for _, stream := range models.Streams() {
		path, ok := paths[stream]
		if !ok {
			logger.Warn("log file not found in archive", "file", stream.Descriptor().FileName)
			continue
		}
		if err := s.ingestFile(ctx, t, stream, path); err != nil {
			return fmt.Errorf("ingest %s: %w", stream.Descriptor().FileName, err)
		}
		s.setProgress(t.ID, func(p *Progress) { p.FilesDone++ })
	}
	return nil
}

// prepare returns the extracted log files for the run, reusing the cache
// when possible.
func (s *IngestService) prepare(ctx context.Context, logger *slog.Logger, t Task) (map[models.Stream]string, error) {
	if entry, ok := s.cache.Lookup(t.RunID); ok {
		s.metrics.RecordCache(true)
		logger.Info("using cached logs", "dir", s.cache.Dir(t.RunID))
		s.setProgress(t.ID, func(p *Progress) { p.CacheHit = true })
		return entry.ExtractedPaths, nil
	}
	s.metrics.RecordCache(false)

	archivePath := s.cache.ArchivePath(t.RunID)
	if s.cache.HasArchive(t.RunID) {
		logger.Info("using cached archive", "path", archivePath)
	} else {
		s.setProgress(t.ID, func(p *Progress) { p.Stage = StageDownload })
		start := time.Now()
		n, err := s.downloader.Download(ctx, t.DownloadURL, archivePath)
		s.metrics.Record(metrics.OpDownload, time.Since(start), n, err)
		if err != nil {
			return nil, err
		}
	}

	s.setProgress(t.ID, func(p *Progress) { p.Stage = StageExtract })
	start := time.Now()
	paths, err := archive.Extract(archivePath, s.cache.Dir(t.RunID))
	s.metrics.Record(metrics.OpExtract, time.Since(start), int64(len(paths)), err)
	if err != nil {
		if errors.Is(err, archive.ErrExtraction) {
			logger.Error("archive is corrupt, discarding it", "path", archivePath, "error", err)
			if rmErr := s.cache.DiscardArchive(t.RunID); rmErr != nil {
				logger.Warn("failed to discard corrupt archive", "error", rmErr)
			}
		}
		return nil, err
	}
	return paths, nil
}

func (s *IngestService) ingestFile(ctx context.Context, t Task, stream models.Stream, path string) error {
	lines, closer, err := parser.ParseFile(stream, path, s.parseOpts)
	if err != nil {
		return err
	}

	_, err = s.streamer.Stream(ctx, t.RunID, stream, lines, func(d StreamStats) {
		s.setProgress(t.ID, func(p *Progress) {
			p.RecordsIngested += d.Records
			p.Warnings += d.Warnings
			p.BatchesPushed += d.Batches
		})
	})
	if closeErr := closer.Close(); err == nil {
		err = closeErr
	}
	return err
}

// setProgress ignores tasks that are no longer running.
func (s *IngestService) setProgress(taskID string, fn func(*Progress)) {
	_ = s.tasks.UpdateProgress(taskID, fn)
}
