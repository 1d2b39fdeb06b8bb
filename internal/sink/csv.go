package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	apperrors "github.com/tickdata/go-bybit-ohlcv/internal/errors"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// csvHeader is the fixed column order of every output file. timestamp is the
// bucket start in UTC epoch seconds; datetime is the same instant rendered
// for human inspection.
var csvHeader = []string{"timestamp", "datetime", "open", "high", "low", "close", "volume", "trades"}

// CSVSink writes one CSV file per (symbol, market, date, timeframe). Files
// are written to a temp path in the same directory tree and renamed into
// place, so readers never observe a half-written file.
type CSVSink struct {
	layout layout
	logger *slog.Logger
}

// NewCSVSink creates a CSV sink rooted at dir.
func NewCSVSink(dir string, logger *slog.Logger) *CSVSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSink{layout: layout{root: dir}, logger: logger}
}

// Exists reports whether the output file for the pair is already on disk.
func (s *CSVSink) Exists(job models.FetchJob, tf models.Timeframe) (bool, error) {
	return s.layout.fileExists(job, tf, "csv")
}

// WriteDay writes the bars to a temp file and renames it over the final path.
func (s *CSVSink) WriteDay(ctx context.Context, job models.FetchJob, tf models.Timeframe, bars []models.Bar) error {
	final := s.layout.filePath(job, tf, "csv")

	if err := s.layout.ensureDirs(job); err != nil {
		return &apperrors.OutputWriteError{Path: final, Err: err}
	}

	tmp, err := os.CreateTemp(s.layout.tempDir(job), fmt.Sprintf("%s_%s_*.csv", job.DateString(), tf))
	if err != nil {
		return &apperrors.OutputWriteError{Path: final, Err: err}
	}
	tmpPath := tmp.Name()

	if err := s.writeAll(ctx, tmp, bars); err != nil {
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

func (s *CSVSink) writeAll(ctx context.Context, f *os.File, bars []models.Bar) error {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	row := make([]string, len(csvHeader))
	for i := range bars {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b := &bars[i]
		row[0] = strconv.FormatInt(b.BucketStart.Unix(), 10)
		row[1] = b.BucketStart.UTC().Format("2006-01-02 15:04:05")
		row[2] = b.Open.String()
		row[3] = b.High.String()
		row[4] = b.Low.String()
		row[5] = b.Close.String()
		row[6] = b.Volume.String()
		row[7] = strconv.FormatInt(b.Trades, 10)
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// Close is a no-op; CSV files are closed per write.
func (s *CSVSink) Close() error {
	return nil
}
