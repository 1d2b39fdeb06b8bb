// Package sink persists aggregated bar series. All sinks share the same
// contract: WriteDay is atomic (a crashed write never leaves a partial,
// readable output) and Exists is the idempotency check the orchestrator uses
// to skip already-processed jobs.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tickdata/go-bybit-ohlcv/internal/config"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// BarSink writes one day of bars per (job, timeframe) pair.
type BarSink interface {
	// Exists reports whether output for the pair is already present. A true
	// result lets the orchestrator skip the whole download.
	Exists(job models.FetchJob, tf models.Timeframe) (bool, error)

	// WriteDay persists the bar slice. On error no partial output is left
	// behind and any prior output for the pair is untouched.
	WriteDay(ctx context.Context, job models.FetchJob, tf models.Timeframe, bars []models.Bar) error

	// Close releases sink resources. Safe to call once after all writes.
	Close() error
}

// New builds the sink named by the output configuration.
func New(cfg config.OutputConfig, logger *slog.Logger) (BarSink, error) {
	switch cfg.Sink {
	case config.SinkCSV, "":
		return NewCSVSink(cfg.RootDir, logger), nil
	case config.SinkParquet:
		return NewParquetSink(cfg.RootDir, logger), nil
	case config.SinkDuckDB:
		return NewDuckDBSink(cfg.DatabasePath, logger)
	default:
		return nil, fmt.Errorf("unsupported sink %q (supported: csv, parquet, duckdb)", cfg.Sink)
	}
}

// layout computes the on-disk paths shared by the file-based sinks. Outputs
// group by symbol then market so a symbol's futures and spot histories sit
// side by side.
type layout struct {
	root string
}

func (l layout) jobDir(job models.FetchJob) string {
	return filepath.Join(l.root, job.Symbol, string(job.Market))
}

func (l layout) tempDir(job models.FetchJob) string {
	return filepath.Join(l.jobDir(job), "temp")
}

func (l layout) filePath(job models.FetchJob, tf models.Timeframe, ext string) string {
	name := fmt.Sprintf("%s_%s_%s.%s", job.Symbol, job.DateString(), tf, ext)
	return filepath.Join(l.jobDir(job), name)
}

func (l layout) fileExists(job models.FetchJob, tf models.Timeframe, ext string) (bool, error) {
	_, err := os.Stat(l.filePath(job, tf, ext))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ensureDirs creates the job's output and scratch directories.
func (l layout) ensureDirs(job models.FetchJob) error {
	if err := os.MkdirAll(l.tempDir(job), 0o755); err != nil {
		return fmt.Errorf("creating output directories: %w", err)
	}
	return nil
}
