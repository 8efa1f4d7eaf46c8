// Package victorialogs is a client for the VictoriaLogs HTTP API: health
// probes, JSON-lines ingestion and LogsQL queries.
package victorialogs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/argusai/testrun-investigator/internal/models"
)

// Compression selects the push body encoding.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

// ParseCompression validates a compression name. Empty means gzip.
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(s)) {
	case "", CompressionGzip:
		return CompressionGzip, nil
	case CompressionNone:
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("unknown push compression %q (want gzip or none)", s)
	}
}

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// Config holds client settings.
type Config struct {
	Endpoint      string
	HTTPClient    *http.Client
	HealthTimeout time.Duration
	PushTimeout   time.Duration
	Compression   Compression
}

// Client talks to a single VictoriaLogs instance.
type Client struct {
	endpoint      string
	http          *http.Client
	healthTimeout time.Duration
	pushTimeout   time.Duration
	compression   Compression
	logger        *slog.Logger
}

// New creates a client. The endpoint must be an absolute http(s) URL.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid victorialogs endpoint %q", cfg.Endpoint)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 30 * time.Second
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionGzip
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		http:          cfg.HTTPClient,
		healthTimeout: cfg.HealthTimeout,
		pushTimeout:   cfg.PushTimeout,
		compression:   cfg.Compression,
		logger:        logger,
	}, nil
}

// Endpoint returns the base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Health probes GET /health. Any failure wraps ErrUnreachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned HTTP %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// Push sends one NDJSON batch for the stream. Each line must already carry
// the stream and run_id tags. Push does not retry; see PushError.Retryable.
func (c *Client) Push(ctx context.Context, stream models.Stream, ndjson []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	desc := stream.Descriptor()
	params := url.Values{}
	params.Set("_stream_fields", models.FieldStream+","+models.FieldRunID)
	params.Set("_time_field", desc.TimeField)
	params.Set("_msg_field", desc.MessageField)

	body := ndjson
	if c.compression == CompressionGzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(ndjson); err != nil {
			return &PushError{Stream: string(stream), Err: fmt.Errorf("gzip: %w", err)}
		}
		if err := zw.Close(); err != nil {
			return &PushError{Stream: string(stream), Err: fmt.Errorf("gzip: %w", err)}
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/insert/jsonline?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return &PushError{Stream: string(stream), Err: err}
	}
	req.Header.Set("Content-Type", "application/stream+json")
	if c.compression == CompressionGzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &PushError{Stream: string(stream), Err: err}
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PushError{
			Stream:     string(stream),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}
	return nil
}

// Row is one result line: field name to value. VictoriaLogs returns every
// value as a string.
type Row map[string]string

// Query runs a LogsQL query. Malformed response lines are skipped and
// logged. The caller's context bounds the request; there is no retry.
func (c *Client) Query(ctx context.Context, query string) ([]Row, error) {
	form := url.Values{}
	form.Set("query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/select/logsql/query", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &QueryError{Query: query, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	rows := []Row{}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		row, err := decodeRow(line)
		if err != nil {
			c.logger.Warn("skipping malformed query result line", "error", err, "line", truncate(string(line), 200))
			continue
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: fmt.Errorf("read response: %w", err)}
	}
	return rows, nil
}

func decodeRow(line []byte) (Row, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	row := make(Row, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			row[k] = v
		case nil:
			row[k] = ""
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			row[k] = string(b)
		}
	}
	return row, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// IsUnreachable reports whether err came from a failed health probe or a
// transport-level query failure.
func IsUnreachable(err error) bool {
	if errors.Is(err, ErrUnreachable) {
		return true
	}
	var qe *QueryError
	return errors.As(err, &qe) && qe.StatusCode == 0
}
