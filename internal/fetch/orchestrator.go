package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickdata/go-bybit-ohlcv/internal/aggregate"
	"github.com/tickdata/go-bybit-ohlcv/internal/config"
	apperrors "github.com/tickdata/go-bybit-ohlcv/internal/errors"
	"github.com/tickdata/go-bybit-ohlcv/internal/logger"
	"github.com/tickdata/go-bybit-ohlcv/internal/metrics"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
	"github.com/tickdata/go-bybit-ohlcv/internal/parser"
	"github.com/tickdata/go-bybit-ohlcv/internal/sink"
	"github.com/tickdata/go-bybit-ohlcv/internal/validator"
)

// maxConsecutiveFailures aborts the batch when this many jobs in a row fail,
// which almost always means the host is unreachable or the symbol does not
// exist, not that individual days are missing.
const maxConsecutiveFailures = 3

// Orchestrator runs fetch jobs sequentially: download with retry, decompress,
// aggregate, persist. Jobs are independent except for the previous-day close,
// which threads forward through consecutive dates of the same (symbol,
// market) series.
type Orchestrator struct {
	client     *Client
	sink       sink.BarSink
	retryer    *apperrors.Retryer
	timeframes []models.Timeframe
	aggCfg     aggregate.Config
	maxMalPct  float64
	validate   *validator.SeriesValidator
	metrics    *metrics.Pipeline
	logger     *slog.Logger
}

// NewOrchestrator wires an orchestrator from the application configuration
// and an already-constructed client and sink.
func NewOrchestrator(cfg *config.AppConfig, client *Client, barSink sink.BarSink, log *slog.Logger) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}

	timeframes, err := cfg.Timeframes()
	if err != nil {
		return nil, err
	}
	baseDelay, err := cfg.BaseDelay()
	if err != nil {
		return nil, err
	}

	ordering := aggregate.SkipOutOfOrder
	if cfg.Aggregation.OrderingPolicy == config.OrderingAbort {
		ordering = aggregate.AbortOnOutOfOrder
	}

	return &Orchestrator{
		client:     client,
		sink:       barSink,
		retryer:    apperrors.NewRetryer(cfg.Fetch.MaxRetries, baseDelay, log),
		timeframes: timeframes,
		aggCfg: aggregate.Config{
			Timeframes:      timeframes,
			Ordering:        ordering,
			SeedLeadingGaps: cfg.Aggregation.SeedLeadingGaps,
		},
		maxMalPct: cfg.Aggregation.MaxMalformedPct,
		validate:  validator.New(),
		metrics:   metrics.NewPipeline(),
		logger:    log,
	}, nil
}

// seriesKey identifies one close-threading chain.
type seriesKey struct {
	symbol string
	market models.MarketType
}

// seriesState carries the last successfully aggregated day's close forward.
type seriesState struct {
	lastDate  time.Time
	lastClose *decimal.Decimal
}

// Run processes the jobs in order and returns the batch summary. A failed
// job never stops the batch on its own; only maxConsecutiveFailures in a row
// or context cancellation do.
func (o *Orchestrator) Run(ctx context.Context, jobs []models.FetchJob) (models.BatchSummary, error) {
	results := make([]models.JobResult, 0, len(jobs))
	series := make(map[seriesKey]seriesState)
	consecutive := 0

	var runErr error
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		result := o.runJob(ctx, jobs[i], series)
		results = append(results, result)

		if result.Failed() {
			consecutive++
			if consecutive >= maxConsecutiveFailures {
				runErr = fmt.Errorf("aborting batch after %d consecutive failures, last: %w",
					consecutive, result.Err)
				break
			}
		} else {
			consecutive = 0
		}
	}

	summary := models.NewBatchSummary(results)
	o.logger.Info("batch finished",
		"run_id", summary.RunID,
		"total", summary.Total,
		"written", summary.Written,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	o.metrics.Snapshot().Log(o.logger)
	return summary, runErr
}

// runJob processes one job end to end and updates the close-threading state.
func (o *Orchestrator) runJob(ctx context.Context, job models.FetchJob, series map[seriesKey]seriesState) models.JobResult {
	started := time.Now()
	log := logger.ForJob(o.logger, job.ID, job.Symbol, string(job.Market), job.DateString())
	result := models.JobResult{Job: job, Status: models.StatusPending}

	fail := func(err error) models.JobResult {
		result.Status = models.StatusFailed
		result.Err = err
		result.Elapsed = time.Since(started)
		o.metrics.RecordJobFailed()
		log.Error("job failed", "status", result.Status, "error", err)
		return result
	}

	if err := job.Validate(); err != nil {
		return fail(err)
	}

	key := seriesKey{symbol: job.Symbol, market: job.Market}

	done, err := o.outputsExist(job)
	if err != nil {
		return fail(err)
	}
	if done {
		// An already-written day's close is unknown here, so the threading
		// chain restarts at the next processed day.
		delete(series, key)
		result.Status = models.StatusSkippedExisting
		result.Elapsed = time.Since(started)
		o.metrics.RecordJobSkipped()
		log.Info("all outputs exist, skipping")
		return result
	}

	workDir, err := os.MkdirTemp("", "tickbars-")
	if err != nil {
		return fail(err)
	}
	defer os.RemoveAll(workDir)

	csvPath, attempts, err := o.fetchArchive(ctx, job, workDir, &result)
	result.Attempts = attempts
	o.metrics.RecordRetries(attempts)
	if err != nil {
		return fail(&apperrors.FetchFailure{Job: job.String(), Attempts: attempts, LastErr: err})
	}

	result.Status = models.StatusAggregating
	day, err := o.aggregateFile(ctx, job, csvPath, prevCloseFor(series, key, job.Date), &result)
	if err != nil {
		return fail(err)
	}

	totalBars := 0
	for _, tf := range o.timeframes {
		bars := day.Bars[tf]
		if err := o.validate.ValidateDay(job.Date, tf, bars); err != nil {
			return fail(fmt.Errorf("aggregation produced inconsistent %s series: %w", tf, err))
		}
		if err := o.sink.WriteDay(ctx, job, tf, bars); err != nil {
			return fail(err)
		}
		result.BarsWritten[tf] = len(bars)
		totalBars += len(bars)
	}

	series[key] = seriesState{lastDate: job.Date, lastClose: day.LastClose}

	result.Status = models.StatusWritten
	result.OutOfOrder = day.OutOfOrder
	result.Elapsed = time.Since(started)
	o.metrics.RecordJobWritten(totalBars, result.MalformedRows, result.OutOfOrder)
	log.Info("job written",
		"attempts", result.Attempts,
		"malformed_rows", result.MalformedRows,
		"out_of_order", result.OutOfOrder,
		"elapsed", result.Elapsed)
	return result
}

// outputsExist reports whether every configured timeframe already has output
// for the job. A partially written job is reprocessed in full.
func (o *Orchestrator) outputsExist(job models.FetchJob) (bool, error) {
	for _, tf := range o.timeframes {
		exists, err := o.sink.Exists(job, tf)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// fetchArchive downloads and decompresses the job's archive with retry,
// tracking the job's status through both phases. Decompression sits inside
// the retry loop because a truncated download surfaces as a gzip error on
// the next step.
func (o *Orchestrator) fetchArchive(ctx context.Context, job models.FetchJob, workDir string, result *models.JobResult) (string, int, error) {
	var csvPath string
	attempts, err := o.retryer.Do(ctx, "fetch "+job.String(), func() error {
		result.Status = models.StatusDownloading
		gzPath, err := o.client.Download(ctx, job, workDir)
		if err != nil {
			return err
		}
		defer os.Remove(gzPath)
		if fi, statErr := os.Stat(gzPath); statErr == nil {
			o.metrics.RecordDownload(fi.Size())
		}

		result.Status = models.StatusDecoding
		csvPath, err = o.client.Decompress(gzPath)
		return err
	})
	if err != nil {
		return "", attempts, err
	}
	return csvPath, attempts, nil
}

// aggregateFile parses the decompressed archive and aggregates it into the
// day's bars, enforcing the malformed-row threshold.
func (o *Orchestrator) aggregateFile(ctx context.Context, job models.FetchJob, csvPath string, prevClose *decimal.Decimal, result *models.JobResult) (*aggregate.DayResult, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := parser.NewTickReader(f)
	if err != nil {
		return nil, err
	}

	src := &countingSource{reader: reader}
	agg := aggregate.New(o.aggCfg, o.logger)
	day, err := agg.AggregateDay(ctx, job.Date, prevClose, src)
	if err != nil {
		return nil, err
	}

	result.MalformedRows = src.malformed
	result.BarsWritten = make(map[models.Timeframe]int, len(o.timeframes))

	if o.maxMalPct > 0 {
		total := src.malformed + src.good
		if total > 0 {
			pct := float64(src.malformed) / float64(total) * 100
			if pct > o.maxMalPct {
				return nil, fmt.Errorf("malformed rows %.2f%% exceed limit %.2f%% (%d of %d)",
					pct, o.maxMalPct, src.malformed, total)
			}
		}
	}

	return day, nil
}

// prevCloseFor returns the threading close only when the stored state is for
// the day immediately before the job's date.
func prevCloseFor(series map[seriesKey]seriesState, key seriesKey, date time.Time) *decimal.Decimal {
	state, ok := series[key]
	if !ok || state.lastClose == nil {
		return nil
	}
	if !state.lastDate.Add(24 * time.Hour).Equal(date) {
		return nil
	}
	return state.lastClose
}

// countingSource adapts a TickReader into a TickSource, absorbing malformed
// rows into a count so the aggregator only ever sees decodable ticks.
type countingSource struct {
	reader    *parser.TickReader
	good      int
	malformed int
}

func (s *countingSource) Next() (models.Tick, error) {
	for {
		tick, err := s.reader.Next()
		if err == io.EOF {
			return models.Tick{}, io.EOF
		}
		var mErr *apperrors.MalformedRecordError
		if errors.As(err, &mErr) {
			s.malformed++
			continue
		}
		if err != nil {
			return models.Tick{}, err
		}
		s.good++
		return tick, nil
	}
}
