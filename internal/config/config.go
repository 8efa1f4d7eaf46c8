// Package config loads settings from the environment, an optional .env file
// and an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/argusai/testrun-investigator/internal/retry"
	"github.com/argusai/testrun-investigator/internal/service"
	"github.com/argusai/testrun-investigator/internal/victorialogs"
)

// Config holds all configuration values.
type Config struct {
	// VictoriaLogs
	Endpoint        string
	PushCompression string
	PushTimeout     time.Duration
	QueryTimeout    time.Duration
	HealthTimeout   time.Duration

	// Ingestion
	CacheDir        string
	Workers         int
	BatchSize       int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMultiplier float64
	DownloadTimeout time.Duration
	TaskRetention   time.Duration

	// Server
	// HTTPAddr enables the streamable HTTP transport when set.
	HTTPAddr string
	// ServerURL is the MCP endpoint remote CLI commands talk to.
	ServerURL string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// ConfigFile is the YAML file that was applied, if any.
	ConfigFile string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Endpoint:        "http://localhost:9428",
		PushCompression: string(victorialogs.CompressionGzip),
		PushTimeout:     30 * time.Second,
		QueryTimeout:    30 * time.Second,
		HealthTimeout:   5 * time.Second,

		CacheDir:        "./cache",
		Workers:         4,
		BatchSize:       1000,
		MaxRetries:      3,
		RetryBaseDelay:  time.Second,
		RetryMultiplier: 2,
		DownloadTimeout: 10 * time.Minute,
		TaskRetention:   24 * time.Hour,

		ServerURL: "http://localhost:8484/mcp",

		LogFile:  "/tmp/investigator.log",
		LogLevel: slog.LevelInfo,
	}
}

// Load reads configuration: defaults, then the YAML file named by
// INVESTIGATOR_CONFIG, then environment variables. A .env file in the
// working directory is loaded first without overriding the real environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: load .env: %w", service.ErrConfiguration, err)
	}

	cfg := Default()
	if path := os.Getenv("INVESTIGATOR_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, fmt.Errorf("%w: %w", service.ErrConfiguration, err)
		}
	}

	var p envParser
	cfg.Endpoint = getEnv("VICTORIA_LOGS_ENDPOINT", cfg.Endpoint)
	cfg.PushCompression = getEnv("INVESTIGATOR_PUSH_COMPRESSION", cfg.PushCompression)
	cfg.PushTimeout = p.durationVar("INVESTIGATOR_PUSH_TIMEOUT", cfg.PushTimeout)
	cfg.QueryTimeout = p.durationVar("INVESTIGATOR_QUERY_TIMEOUT", cfg.QueryTimeout)
	cfg.HealthTimeout = p.durationVar("INVESTIGATOR_HEALTH_TIMEOUT", cfg.HealthTimeout)

	cfg.CacheDir = getEnv("INVESTIGATOR_CACHE_DIR", cfg.CacheDir)
	cfg.Workers = p.intVar("INVESTIGATOR_WORKERS", cfg.Workers)
	cfg.BatchSize = p.intVar("INVESTIGATOR_BATCH_SIZE", cfg.BatchSize)
	cfg.MaxRetries = p.intVar("INVESTIGATOR_MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryBaseDelay = p.durationVar("INVESTIGATOR_RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.RetryMultiplier = p.floatVar("INVESTIGATOR_RETRY_MULTIPLIER", cfg.RetryMultiplier)
	cfg.DownloadTimeout = p.durationVar("INVESTIGATOR_DOWNLOAD_TIMEOUT", cfg.DownloadTimeout)
	cfg.TaskRetention = p.durationVar("INVESTIGATOR_TASK_RETENTION", cfg.TaskRetention)

	cfg.HTTPAddr = getEnv("INVESTIGATOR_HTTP_ADDR", cfg.HTTPAddr)
	cfg.ServerURL = getEnv("INVESTIGATOR_SERVER_URL", cfg.ServerURL)

	cfg.LogFile = getEnv("INVESTIGATOR_LOG_FILE", cfg.LogFile)
	if v := os.Getenv("INVESTIGATOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", service.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("VICTORIA_LOGS_ENDPOINT must be an http(s) URL, got %q", c.Endpoint))
	}
	if _, err := victorialogs.ParseCompression(c.PushCompression); err != nil {
		errs = append(errs, err)
	}
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache dir must not be empty"))
	}
	for name, v := range map[string]int{
		"workers":     c.Workers,
		"batch size":  c.BatchSize,
		"max retries": c.MaxRetries,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", name, v))
		}
	}
	for name, d := range map[string]time.Duration{
		"push timeout":     c.PushTimeout,
		"query timeout":    c.QueryTimeout,
		"health timeout":   c.HealthTimeout,
		"download timeout": c.DownloadTimeout,
		"task retention":   c.TaskRetention,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry base delay must not be negative, got %s", c.RetryBaseDelay))
	}
	if c.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("retry multiplier must be at least 1, got %g", c.RetryMultiplier))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", service.ErrConfiguration, err)
	}
	return nil
}

// RetryPolicy returns the policy shared by downloads and pushes.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxRetries,
		BaseDelay:   c.RetryBaseDelay,
		Multiplier:  c.RetryMultiplier,
	}
}

// Service converts the configuration into service settings.
func (c Config) Service() service.Config {
	compression, _ := victorialogs.ParseCompression(c.PushCompression)
	return service.Config{
		CacheDir:        c.CacheDir,
		Workers:         c.Workers,
		Retry:           c.RetryPolicy(),
		BatchSize:       c.BatchSize,
		MaxWarningLogs:  service.DefaultMaxWarningLogs,
		DownloadTimeout: c.DownloadTimeout,
		QueryTimeout:    c.QueryTimeout,
		TaskRetention:   c.TaskRetention,
		Store: victorialogs.Config{
			Endpoint:      c.Endpoint,
			HealthTimeout: c.HealthTimeout,
			PushTimeout:   c.PushTimeout,
			Compression:   compression,
		},
	}
}

// fileConfig is the YAML layout. Durations use Go syntax, e.g. "30s".
type fileConfig struct {
	VictoriaLogs struct {
		Endpoint        string `yaml:"endpoint"`
		PushCompression string `yaml:"push_compression"`
		PushTimeout     string `yaml:"push_timeout"`
		QueryTimeout    string `yaml:"query_timeout"`
		HealthTimeout   string `yaml:"health_timeout"`
	} `yaml:"victoria_logs"`
	Ingest struct {
		CacheDir        string  `yaml:"cache_dir"`
		Workers         int     `yaml:"workers"`
		BatchSize       int     `yaml:"batch_size"`
		MaxRetries      int     `yaml:"max_retries"`
		RetryBaseDelay  string  `yaml:"retry_base_delay"`
		RetryMultiplier float64 `yaml:"retry_multiplier"`
		DownloadTimeout string  `yaml:"download_timeout"`
		TaskRetention   string  `yaml:"task_retention"`
	} `yaml:"ingest"`
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
		URL      string `yaml:"url"`
	} `yaml:"server"`
	Log struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Endpoint, fc.VictoriaLogs.Endpoint)
	setString(&c.PushCompression, fc.VictoriaLogs.PushCompression)
	setString(&c.CacheDir, fc.Ingest.CacheDir)
	setString(&c.HTTPAddr, fc.Server.HTTPAddr)
	setString(&c.ServerURL, fc.Server.URL)
	setString(&c.LogFile, fc.Log.File)
	setInt(&c.Workers, fc.Ingest.Workers)
	setInt(&c.BatchSize, fc.Ingest.BatchSize)
	setInt(&c.MaxRetries, fc.Ingest.MaxRetries)
	if fc.Ingest.RetryMultiplier != 0 {
		c.RetryMultiplier = fc.Ingest.RetryMultiplier
	}
	if fc.Log.Level != "" {
		c.LogLevel = parseLogLevel(fc.Log.Level)
	}

	var errs []error
	for _, d := range []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&c.PushTimeout, fc.VictoriaLogs.PushTimeout, "victoria_logs.push_timeout"},
		{&c.QueryTimeout, fc.VictoriaLogs.QueryTimeout, "victoria_logs.query_timeout"},
		{&c.HealthTimeout, fc.VictoriaLogs.HealthTimeout, "victoria_logs.health_timeout"},
		{&c.RetryBaseDelay, fc.Ingest.RetryBaseDelay, "ingest.retry_base_delay"},
		{&c.DownloadTimeout, fc.Ingest.DownloadTimeout, "ingest.download_timeout"},
		{&c.TaskRetention, fc.Ingest.TaskRetention, "ingest.task_retention"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		*d.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.ConfigFile = path
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// envParser collects parse errors so all bad variables are reported at once.
type envParser struct {
	errs []error
}

func (p *envParser) intVar(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (p *envParser) floatVar(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

// durationVar accepts Go durations ("1m30s") or plain seconds ("90").
func (p *envParser) durationVar(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
	return def
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
