package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/parquet-go/parquet-go"

	apperrors "github.com/tickdata/go-bybit-ohlcv/internal/errors"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// barRow is the parquet row schema. Prices and volume are stored as float64;
// the lossless decimal strings live in the CSV sink for consumers that need
// exact values.
type barRow struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
	Trades    int64   `parquet:"trades"`
}

// ParquetSink writes one parquet file per (symbol, market, date, timeframe)
// using the same temp-and-rename discipline as the CSV sink.
type ParquetSink struct {
	layout layout
	logger *slog.Logger
}

// NewParquetSink creates a parquet sink rooted at dir.
func NewParquetSink(dir string, logger *slog.Logger) *ParquetSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParquetSink{layout: layout{root: dir}, logger: logger}
}

// Exists reports whether the output file for the pair is already on disk.
func (s *ParquetSink) Exists(job models.FetchJob, tf models.Timeframe) (bool, error) {
	return s.layout.fileExists(job, tf, "parquet")
}

// WriteDay writes the bars to a temp file and renames it over the final path.
func (s *ParquetSink) WriteDay(ctx context.Context, job models.FetchJob, tf models.Timeframe, bars []models.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	final := s.layout.filePath(job, tf, "parquet")

	if err := s.layout.ensureDirs(job); err != nil {
		return &apperrors.OutputWriteError{Path: final, Err: err}
	}

	tmp, err := os.CreateTemp(s.layout.tempDir(job), fmt.Sprintf("%s_%s_*.parquet", job.DateString(), tf))
	if err != nil {
		return &apperrors.OutputWriteError{Path: final, Err: err}
	}
	tmpPath := tmp.Name()

	rows := make([]barRow, len(bars))
	for i := range bars {
		b := &bars[i]
		rows[i] = barRow{
			Timestamp: b.BucketStart.UnixMilli(),
			Open:      b.Open.InexactFloat64(),
			High:      b.High.InexactFloat64(),
			Low:       b.Low.InexactFloat64(),
			Close:     b.Close.InexactFloat64(),
			Volume:    b.Volume.InexactFloat64(),
			Trades:    b.Trades,
		}
	}

	w := parquet.NewGenericWriter[barRow](tmp, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		w.Close()
		tmp.Close()
		os.Remove(tmpPath)
		return &apperrors.OutputWriteError{Path: final, Err: err}
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &apperrors.OutputWriteError{Path: final, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &apperrors.OutputWriteError{Path: final, Err: err}
	}

	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return &apperrors.OutputWriteError{Path: final, Err: err}
	}

	s.logger.Debug("wrote bar file",
		"path", final,
		"timeframe", tf,
		"bars", len(bars))
	return nil
}

// Close is a no-op; parquet files are closed per write.
func (s *ParquetSink) Close() error {
	return nil
}
