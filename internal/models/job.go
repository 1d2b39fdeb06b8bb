package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MarketType selects which Bybit public archive root a job downloads from.
type MarketType string

const (
	MarketFutures MarketType = "futures" // MarketFutures uses the trading/ archive root
	MarketSpot    MarketType = "spot"    // MarketSpot uses the spot/ archive root
	MarketBoth    MarketType = "both"    // MarketBoth expands into one futures and one spot job
)

// ParseMarketType validates a market type string.
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(s) {
	case MarketFutures, MarketSpot, MarketBoth:
		return MarketType(s), nil
	default:
		return "", fmt.Errorf("unsupported market type %q (supported: futures, spot, both)", s)
	}
}

// JobStatus tracks a fetch job through its lifecycle. The terminal states are
// StatusSkippedExisting, StatusWritten, and StatusFailed.
type JobStatus string

const (
	StatusPending         JobStatus = "pending"
	StatusDownloading     JobStatus = "downloading"
	StatusDecoding        JobStatus = "decoding"
	StatusAggregating     JobStatus = "aggregating"
	StatusSkippedExisting JobStatus = "skipped_existing"
	StatusWritten         JobStatus = "written"
	StatusFailed          JobStatus = "failed"
)

// Terminal reports whether the status is one of the three terminal states.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSkippedExisting, StatusWritten, StatusFailed:
		return true
	}
	return false
}

// FetchJob identifies exactly one remote daily archive and one local output
// group. Date is the UTC midnight of the archive's trading day. Jobs are
// created by the caller, consumed once by the orchestrator, and never
// persisted; only their outcome is observable through the sink's existence
// check on the next run.
type FetchJob struct {
	ID     string
	Symbol string
	Date   time.Time
	Market MarketType
}

// NewFetchJob creates a job for one (symbol, date, market) unit of work.
// Date is normalized to UTC midnight.
func NewFetchJob(symbol string, date time.Time, market MarketType) FetchJob {
	d := date.UTC()
	return FetchJob{
		ID:     uuid.NewString(),
		Symbol: symbol,
		Date:   time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		Market: market,
	}
}

// Validate checks the job fields the orchestrator relies on. The CLI layer is
// expected to have validated user input already; this guards programmatic use.
func (j *FetchJob) Validate() error {
	if j.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if j.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date cannot be zero"}
	}
	if j.Market != MarketFutures && j.Market != MarketSpot {
		return &ValidationError{Field: "market", Message: fmt.Sprintf("job market must be futures or spot, got %q", j.Market)}
	}
	return nil
}

// DateString returns the job date in the YYYY-MM-DD form used by archive file
// names and output file names.
func (j *FetchJob) DateString() string {
	return j.Date.Format("2006-01-02")
}

// String implements fmt.Stringer.
func (j *FetchJob) String() string {
	return fmt.Sprintf("%s/%s/%s", j.Symbol, j.Market, j.DateString())
}

// JobResult reports the outcome of one processed job. Per-row faults
// (malformed and out-of-order rows) are absorbed into counts rather than
// failing the job; Err is set only for terminal failures.
type JobResult struct {
	Job           FetchJob
	Status        JobStatus
	Err           error
	Attempts      int
	MalformedRows int
	OutOfOrder    int
	BarsWritten   map[Timeframe]int
	Elapsed       time.Duration
}

// Failed reports whether the job reached the failed terminal state.
func (r *JobResult) Failed() bool {
	return r.Status == StatusFailed
}

// BatchSummary aggregates job results for exit-code and reporting purposes.
type BatchSummary struct {
	RunID   string
	Total   int
	Written int
	Skipped int
	Failed  int
	Results []JobResult
}

// NewBatchSummary tallies a result slice into a summary with a fresh run ID.
func NewBatchSummary(results []JobResult) BatchSummary {
	s := BatchSummary{RunID: uuid.NewString(), Total: len(results), Results: results}
	for i := range results {
		switch results[i].Status {
		case StatusWritten:
			s.Written++
		case StatusSkippedExisting:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// FailedDates returns the date strings of failed jobs in input order, used for
// the retry hint printed at the end of a batch.
func (s *BatchSummary) FailedDates() []string {
	var dates []string
	for i := range s.Results {
		if s.Results[i].Failed() {
			dates = append(dates, s.Results[i].Job.DateString())
		}
	}
	return dates
}
