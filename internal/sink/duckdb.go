package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb/v2"

	apperrors "github.com/tickdata/go-bybit-ohlcv/internal/errors"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

const barsSchema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol       VARCHAR NOT NULL,
	market       VARCHAR NOT NULL,
	day          DATE    NOT NULL,
	timeframe    VARCHAR NOT NULL,
	bucket_start TIMESTAMP NOT NULL,
	open         DECIMAL(38, 12) NOT NULL,
	high         DECIMAL(38, 12) NOT NULL,
	low          DECIMAL(38, 12) NOT NULL,
	close        DECIMAL(38, 12) NOT NULL,
	volume       DECIMAL(38, 12) NOT NULL,
	trades       BIGINT NOT NULL,
	PRIMARY KEY (symbol, market, timeframe, bucket_start)
);`

// DuckDBSink stores all bars in a single DuckDB database. One transaction
// per (job, timeframe) write keeps the atomicity contract: a failed write
// rolls back and leaves prior rows untouched.
type DuckDBSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDuckDBSink opens (creating if needed) the database at path and ensures
// the bars table exists.
func NewDuckDBSink(path string, logger *slog.Logger) (*DuckDBSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb database %s: %w", path, err)
	}
	if _, err := db.Exec(barsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bars table: %w", err)
	}

	return &DuckDBSink{db: db, logger: logger}, nil
}

// Exists reports whether any bars for the pair are already stored.
func (s *DuckDBSink) Exists(job models.FetchJob, tf models.Timeframe) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM bars WHERE symbol = ? AND market = ? AND day = ? AND timeframe = ? LIMIT 1`,
		job.Symbol, string(job.Market), job.DateString(), string(tf),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WriteDay replaces the pair's rows inside one transaction.
func (s *DuckDBSink) WriteDay(ctx context.Context, job models.FetchJob, tf models.Timeframe, bars []models.Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &apperrors.OutputWriteError{Path: "duckdb:bars", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM bars WHERE symbol = ? AND market = ? AND day = ? AND timeframe = ?`,
		job.Symbol, string(job.Market), job.DateString(), string(tf))
	if err != nil {
		return &apperrors.OutputWriteError{Path: "duckdb:bars", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bars (symbol, market, day, timeframe, bucket_start, open, high, low, close, volume, trades)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &apperrors.OutputWriteError{Path: "duckdb:bars", Err: err}
	}
	defer stmt.Close()

	for i := range bars {
		b := &bars[i]
		_, err = stmt.ExecContext(ctx,
			job.Symbol, string(job.Market), job.DateString(), string(tf),
			b.BucketStart.UTC(),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
			b.Volume.String(), b.Trades)
		if err != nil {
			return &apperrors.OutputWriteError{Path: "duckdb:bars", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &apperrors.OutputWriteError{Path: "duckdb:bars", Err: err}
	}

	s.logger.Debug("wrote bar rows",
		"symbol", job.Symbol,
		"day", job.DateString(),
		"timeframe", tf,
		"bars", len(bars))
	return nil
}

// Close closes the database handle.
func (s *DuckDBSink) Close() error {
	return s.db.Close()
}
