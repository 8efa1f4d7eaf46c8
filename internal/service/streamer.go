package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/argusai/testrun-investigator/internal/metrics"
	"github.com/argusai/testrun-investigator/internal/models"
	"github.com/argusai/testrun-investigator/internal/parser"
	"github.com/argusai/testrun-investigator/internal/retry"
	"github.com/argusai/testrun-investigator/internal/victorialogs"
)

// Defaults for StreamerConfig.
const (
	DefaultBatchSize      = 1000
	DefaultMaxWarningLogs = 20
)

// StreamerConfig tunes batching.
type StreamerConfig struct {
	BatchSize int
	Policy    retry.Policy
	// MaxWarningLogs parse warnings per stream are logged at WARN, the rest
	// at DEBUG.
	MaxWarningLogs int
}

// StreamStats summarizes one streamed file.
type StreamStats struct {
	Records  int `json:"records"`
	Warnings int `json:"warnings"`
	Batches  int `json:"batches"`
}

func (s *StreamStats) add(o StreamStats) {
	s.Records += o.Records
	s.Warnings += o.Warnings
	s.Batches += o.Batches
}

type pusher interface {
	Push(ctx context.Context, stream models.Stream, ndjson []byte) error
}

// Streamer batches parsed records and pushes them to the log store.
type Streamer struct {
	store   pusher
	cfg     StreamerConfig
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewStreamer creates a streamer. Zero config fields take defaults.
func NewStreamer(store pusher, cfg StreamerConfig, collector *metrics.Collector, logger *slog.Logger) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.Default()
	}
	if cfg.MaxWarningLogs < 0 {
		cfg.MaxWarningLogs = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{store: store, cfg: cfg, metrics: collector, logger: logger}
}

// Stream consumes lines and pushes their records tagged with stream and
// runID. onBatch, if set, is called with the delta after each pushed batch
// and after each warning. Batches already pushed stay in the store when a
// later batch fails.
func (s *Streamer) Stream(ctx context.Context, runID string, stream models.Stream, lines iter.Seq[parser.Line], onBatch func(delta StreamStats)) (StreamStats, error) {
	var (
		stats   StreamStats
		buf     bytes.Buffer
		pending int
	)
	logger := s.logger.With("run_id", runID, "stream", string(stream))

	report := func(d StreamStats) {
		stats.add(d)
		if onBatch != nil {
			onBatch(d)
		}
	}

	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := s.push(ctx, logger, stream, buf.Bytes(), pending, stats.Batches+1); err != nil {
			return err
		}
		report(StreamStats{Records: pending, Batches: 1})
		buf.Reset()
		pending = 0
		return nil
	}

	for line := range lines {
		if line.Warning != nil {
			if stats.Warnings < s.cfg.MaxWarningLogs {
				logger.Warn("skipping malformed line", "line", line.Number, "reason", line.Warning.Reason)
			} else {
				logger.Debug("skipping malformed line", "line", line.Number, "reason", line.Warning.Reason)
			}
			report(StreamStats{Warnings: 1})
			continue
		}

		if err := encodeRecord(&buf, runID, line.Record); err != nil {
			logger.Warn("skipping unencodable record", "line", line.Number, "error", err)
			report(StreamStats{Warnings: 1})
			continue
		}
		pending++

		if pending >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	if stats.Warnings > s.cfg.MaxWarningLogs {
		logger.Warn("malformed lines skipped", "count", stats.Warnings)
	}
	logger.Info("stream pushed", "records", stats.Records, "batches", stats.Batches, "warnings", stats.Warnings)
	return stats, nil
}

func (s *Streamer) push(ctx context.Context, logger *slog.Logger, stream models.Stream, body []byte, records, batch int) error {
	start := time.Now()
	attempts, err := s.cfg.Policy.Do(ctx, func(ctx context.Context) error {
		err := s.store.Push(ctx, stream, body)
		var pe *victorialogs.PushError
		if errors.As(err, &pe) && !pe.Retryable() {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		logger.Warn("push failed, retrying", "batch", batch, "attempt", attempt, "retry_in", next, "error", err)
	})
	s.metrics.Record(metrics.OpPush, time.Since(start), int64(records), err)
	if err != nil {
		return fmt.Errorf("push batch %d (%d records) after %d attempt(s): %w", batch, records, attempts, err)
	}
	logger.Debug("batch pushed", "batch", batch, "records", records, "attempts", attempts)
	return nil
}

// encodeRecord appends one NDJSON line: the record fields plus stream tags.
func encodeRecord(buf *bytes.Buffer, runID string, rec models.Record) error {
	fields := rec.Fields()
	fields[models.FieldStream] = string(rec.Stream())
	fields[models.FieldRunID] = runID
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte('\n')
	return nil
}
