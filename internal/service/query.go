package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/argusai/testrun-investigator/internal/metrics"
	"github.com/argusai/testrun-investigator/internal/models"
	"github.com/argusai/testrun-investigator/internal/victorialogs"
)

// DefaultQueryTimeout bounds a single store query.
const DefaultQueryTimeout = 30 * time.Second

// StreamQuery selects records of one stream of one run.
type StreamQuery struct {
	RunID  string
	Stream models.Stream
	Range  models.TimeRange
	// Limit caps the result size. Zero means no limit.
	Limit int
	// Fields are extra exact-match predicates such as severity=ERROR.
	Fields map[string]string
}

type querier interface {
	Query(ctx context.Context, query string) ([]victorialogs.Row, error)
}

// QueryService runs read-only queries against the log store. It never
// touches the task registry.
type QueryService struct {
	store   querier
	timeout time.Duration
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewQueryService creates a query service.
func NewQueryService(store querier, timeout time.Duration, collector *metrics.Collector, logger *slog.Logger) *QueryService {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{store: store, timeout: timeout, metrics: collector, logger: logger}
}

// QueryByStream returns matching records ordered by time ascending, within
// the half-open range [Start, End). An empty result for a run the store has
// never seen fails with ErrRunNotIngested.
func (s *QueryService) QueryByStream(ctx context.Context, q StreamQuery) ([]models.Record, error) {
	if err := models.ValidateIdentifier("run_id", q.RunID); err != nil {
		return nil, invalidArgument(err)
	}
	if !q.Stream.Valid() {
		return nil, invalidArgument(fmt.Errorf("unknown stream type %q, must be one of %v", q.Stream, models.Streams()))
	}
	if q.Range.Start != nil && q.Range.End != nil && q.Range.Start.After(*q.Range.End) {
		return nil, invalidArgument(errors.New("start_time is after end_time"))
	}

	vq := victorialogs.Query{
		Stream: q.Stream,
		RunID:  q.RunID,
		Range:  q.Range,
		Fields: q.Fields,
		Sort:   true,
		Limit:  q.Limit,
	}
	if err := vq.Validate(); err != nil {
		return nil, invalidArgument(err)
	}

	rows, err := s.run(ctx, vq)
	if err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := victorialogs.DecodeRecord(q.Stream, row)
		if err != nil {
			s.logger.Warn("skipping undecodable row", "run_id", q.RunID, "stream", string(q.Stream), "error", err)
			continue
		}
		if !q.Range.Contains(rec.Time()) {
			continue
		}
		if !matchesFields(rec, q.Fields) {
			continue
		}
		records = append(records, rec)
	}
	slices.SortStableFunc(records, func(a, b models.Record) int {
		return a.Time().Compare(b.Time())
	})
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}

	if len(records) == 0 {
		ingested, err := s.runExists(ctx, q.RunID)
		if err != nil {
			return nil, err
		}
		if !ingested {
			return nil, fmt.Errorf("run %s: %w", q.RunID, ErrRunNotIngested)
		}
	}
	return records, nil
}

// QueryActions returns the run's action records within tr.
func (s *QueryService) QueryActions(ctx context.Context, runID string, tr models.TimeRange) ([]models.Record, error) {
	return s.QueryByStream(ctx, StreamQuery{RunID: runID, Stream: models.StreamAction, Range: tr})
}

// QueryEvent returns the event with eventID, or ErrNotFound.
func (s *QueryService) QueryEvent(ctx context.Context, runID, eventID string, tr models.TimeRange) (models.Record, error) {
	if err := models.ValidateIdentifier("event_id", eventID); err != nil {
		return nil, invalidArgument(err)
	}
	records, err := s.QueryByStream(ctx, StreamQuery{
		RunID:  runID,
		Stream: models.StreamEvents,
		Range:  tr,
		Limit:  1,
		Fields: map[string]string{"event_id": eventID},
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("event %s in run %s: %w", eventID, runID, ErrNotFound)
	}
	return records[0], nil
}

// runExists probes for any record of the run, in any stream.
func (s *QueryService) runExists(ctx context.Context, runID string) (bool, error) {
	rows, err := s.run(ctx, victorialogs.Query{RunID: runID, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *QueryService) run(ctx context.Context, q victorialogs.Query) ([]victorialogs.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logsql := q.String()
	start := time.Now()
	rows, err := s.store.Query(ctx, logsql)
	s.metrics.Record(metrics.OpQuery, time.Since(start), int64(len(rows)), err)
	if err != nil {
		s.logger.Error("query failed", "query", logsql, "error", err)
		return nil, err
	}
	s.logger.Debug("query executed", "query", logsql, "rows", len(rows))
	return rows, nil
}

func matchesFields(rec models.Record, fields map[string]string) bool {
	if len(fields) == 0 {
		return true
	}
	have := rec.Fields()
	for k, want := range fields {
		v, ok := have[k]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && s != want {
			return false
		}
	}
	return true
}
