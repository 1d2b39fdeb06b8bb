// Package config provides centralized configuration for the downloader and
// converter. Configuration is loaded from defaults, overlaid by an optional
// JSON file, overlaid by environment variables, and validated before any job
// starts.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// AppConfig is the complete application configuration.
type AppConfig struct {
	AppName string `json:"app_name" env:"APP_NAME"`

	// Fetch configures the archive download path
	Fetch FetchConfig `json:"fetch"`

	// Aggregation configures the tick-to-bar conversion
	Aggregation AggregationConfig `json:"aggregation"`

	// Output configures the bar sink
	Output OutputConfig `json:"output"`

	// Logging configures structured logging
	Logging LoggingConfig `json:"logging"`
}

// FetchConfig configures archive downloads and retry behavior.
type FetchConfig struct {
	FuturesRoot       string  `json:"futures_root" env:"FUTURES_ROOT"`               // Archive root for futures daily files
	SpotRoot          string  `json:"spot_root" env:"SPOT_ROOT"`                     // Archive root for spot daily files
	MaxRetries        int     `json:"max_retries" env:"MAX_RETRIES"`                 // Download attempts per job
	BaseDelay         string  `json:"base_delay" env:"BASE_DELAY"`                   // Initial backoff delay (doubles per attempt)
	RequestTimeout    string  `json:"request_timeout" env:"REQUEST_TIMEOUT"`         // Per-request HTTP timeout
	RequestsPerSecond float64 `json:"requests_per_second" env:"REQUESTS_PER_SECOND"` // Politeness limit for the archive host
	UserAgent         string  `json:"user_agent" env:"USER_AGENT"`                   // User-Agent header on archive requests
}

// AggregationConfig configures the multi-timeframe aggregator.
type AggregationConfig struct {
	Timeframes      []string `json:"timeframes" env:"TIMEFRAMES"`                 // Requested timeframes, or ["all"]
	OrderingPolicy  string   `json:"ordering_policy" env:"ORDERING_POLICY"`       // "skip" or "abort" for out-of-order ticks
	SeedLeadingGaps bool     `json:"seed_leading_gaps" env:"SEED_LEADING_GAPS"`   // Fill cold-start leading gaps from the first tick's price
	MaxMalformedPct float64  `json:"max_malformed_pct" env:"MAX_MALFORMED_PCT"`   // Fail the job above this malformed-row share (0 disables)
}

// Ordering policies for out-of-order ticks.
const (
	OrderingSkip  = "skip"  // count the row and continue
	OrderingAbort = "abort" // fail the job
)

// OutputConfig configures where and how bars are persisted.
type OutputConfig struct {
	RootDir      string `json:"root_dir" env:"OUTPUT_ROOT"`          // Output directory root
	Sink         string `json:"sink" env:"OUTPUT_SINK"`              // "csv", "parquet", or "duckdb"
	DatabasePath string `json:"database_path" env:"OUTPUT_DATABASE"` // DuckDB database file (duckdb sink only)
}

// Sink types.
const (
	SinkCSV     = "csv"
	SinkParquet = "parquet"
	SinkDuckDB  = "duckdb"
)

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`             // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"`           // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"`           // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`     // Log file path when output is "file"
	MaxSize    int    `json:"max_size" env:"LOG_MAX_SIZE"`       // Maximum log file size in MB
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"` // Rotated file count to keep
	MaxAge     int    `json:"max_age" env:"LOG_MAX_AGE"`         // Maximum rotated file age in days
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`       // Compress rotated files
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "tickbars",
		Fetch: FetchConfig{
			FuturesRoot:       "https://public.bybit.com/trading",
			SpotRoot:          "https://public.bybit.com/spot",
			MaxRetries:        3,
			BaseDelay:         "1s",
			RequestTimeout:    "5m",
			RequestsPerSecond: 2,
			UserAgent:         "Mozilla/5.0 (compatible; BybitHistoricalOHLCVConverter/1.0)",
		},
		Aggregation: AggregationConfig{
			Timeframes:      []string{"all"},
			OrderingPolicy:  OrderingSkip,
			SeedLeadingGaps: false,
			MaxMalformedPct: 0,
		},
		Output: OutputConfig{
			RootDir: "data",
			Sink:    SinkCSV,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
	}
}

// Load builds the effective configuration: defaults, then the JSON file at
// path (if any), then environment variables, then validation.
func Load(path string, logger *slog.Logger) (*AppConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Debug("configuration loaded",
		"config_path", path,
		"sink", cfg.Output.Sink,
		"output_root", cfg.Output.RootDir,
		"max_retries", cfg.Fetch.MaxRetries,
		"log_level", cfg.Logging.Level)

	return cfg, nil
}

// loadFromFile overlays configuration from a JSON file. A missing file is not
// an error; defaults apply.
func loadFromFile(cfg *AppConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv overlays configuration from environment variables.
func loadFromEnv(cfg *AppConfig) {
	if val := os.Getenv("APP_NAME"); val != "" {
		cfg.AppName = val
	}

	if val := os.Getenv("FUTURES_ROOT"); val != "" {
		cfg.Fetch.FuturesRoot = val
	}
	if val := os.Getenv("SPOT_ROOT"); val != "" {
		cfg.Fetch.SpotRoot = val
	}
	if val := os.Getenv("MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Fetch.MaxRetries = n
		}
	}
	if val := os.Getenv("BASE_DELAY"); val != "" {
		cfg.Fetch.BaseDelay = val
	}
	if val := os.Getenv("REQUEST_TIMEOUT"); val != "" {
		cfg.Fetch.RequestTimeout = val
	}
	if val := os.Getenv("REQUESTS_PER_SECOND"); val != "" {
		if rps, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Fetch.RequestsPerSecond = rps
		}
	}
	if val := os.Getenv("USER_AGENT"); val != "" {
		cfg.Fetch.UserAgent = val
	}

	if val := os.Getenv("TIMEFRAMES"); val != "" {
		cfg.Aggregation.Timeframes = strings.Split(val, ",")
	}
	if val := os.Getenv("ORDERING_POLICY"); val != "" {
		cfg.Aggregation.OrderingPolicy = val
	}
	if val := os.Getenv("SEED_LEADING_GAPS"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Aggregation.SeedLeadingGaps = b
		}
	}
	if val := os.Getenv("MAX_MALFORMED_PCT"); val != "" {
		if pct, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Aggregation.MaxMalformedPct = pct
		}
	}

	if val := os.Getenv("OUTPUT_ROOT"); val != "" {
		cfg.Output.RootDir = val
	}
	if val := os.Getenv("OUTPUT_SINK"); val != "" {
		cfg.Output.Sink = val
	}
	if val := os.Getenv("OUTPUT_DATABASE"); val != "" {
		cfg.Output.DatabasePath = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		cfg.Logging.FilePath = val
	}
}

// Validate checks the configuration before any job starts. Invalid
// configuration is the only error class that propagates to the caller
// ahead of the batch.
func (c *AppConfig) Validate() error {
	if c.Fetch.FuturesRoot == "" || c.Fetch.SpotRoot == "" {
		return fmt.Errorf("archive roots cannot be empty")
	}
	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.Fetch.MaxRetries)
	}
	if _, err := c.BaseDelay(); err != nil {
		return fmt.Errorf("invalid base_delay: %w", err)
	}
	if _, err := c.RequestTimeout(); err != nil {
		return fmt.Errorf("invalid request_timeout: %w", err)
	}
	if c.Fetch.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %v", c.Fetch.RequestsPerSecond)
	}

	if _, err := c.Timeframes(); err != nil {
		return err
	}
	switch c.Aggregation.OrderingPolicy {
	case OrderingSkip, OrderingAbort:
	default:
		return fmt.Errorf("ordering_policy must be %q or %q, got %q", OrderingSkip, OrderingAbort, c.Aggregation.OrderingPolicy)
	}
	if c.Aggregation.MaxMalformedPct < 0 || c.Aggregation.MaxMalformedPct > 100 {
		return fmt.Errorf("max_malformed_pct must be in [0, 100], got %v", c.Aggregation.MaxMalformedPct)
	}

	if c.Output.RootDir == "" {
		return fmt.Errorf("output root_dir cannot be empty")
	}
	switch c.Output.Sink {
	case SinkCSV, SinkParquet:
	case SinkDuckDB:
		if c.Output.DatabasePath == "" {
			return fmt.Errorf("database_path is required for the duckdb sink")
		}
	default:
		return fmt.Errorf("output sink must be one of csv, parquet, duckdb; got %q", c.Output.Sink)
	}

	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("log file_path is required when log output is 'file'")
	}

	return nil
}

// BaseDelay returns the parsed retry base delay.
func (c *AppConfig) BaseDelay() (time.Duration, error) {
	return time.ParseDuration(c.Fetch.BaseDelay)
}

// RequestTimeout returns the parsed HTTP request timeout.
func (c *AppConfig) RequestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Fetch.RequestTimeout)
}

// Timeframes returns the parsed timeframe set.
func (c *AppConfig) Timeframes() ([]models.Timeframe, error) {
	if len(c.Aggregation.Timeframes) == 0 {
		return nil, fmt.Errorf("at least one timeframe is required")
	}

	seen := make(map[models.Timeframe]bool)
	var out []models.Timeframe
	for _, s := range c.Aggregation.Timeframes {
		tfs, err := models.ParseTimeframes(s)
		if err != nil {
			return nil, err
		}
		for _, tf := range tfs {
			if !seen[tf] {
				seen[tf] = true
				out = append(out, tf)
			}
		}
	}
	return out, nil
}
