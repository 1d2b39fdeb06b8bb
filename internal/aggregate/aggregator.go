package aggregate

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/tickdata/go-bybit-ohlcv/internal/errors"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// OrderingPolicy decides what happens when a tick arrives with a timestamp
// earlier than the start of an already-open bucket. The aggregator never
// silently reorders input.
type OrderingPolicy int

const (
	// SkipOutOfOrder drops the offending record for every timeframe and
	// increments the result's out-of-order count. Skipping for all
	// timeframes keeps per-timeframe volumes consistent.
	SkipOutOfOrder OrderingPolicy = iota
	// AbortOnOutOfOrder fails the job on the first out-of-order record.
	AbortOnOutOfOrder
)

// Config controls one aggregation run.
type Config struct {
	Timeframes []models.Timeframe
	Ordering   OrderingPolicy

	// SeedLeadingGaps fills buckets before the first tick of a cold-start
	// day (no previous close available) with the first tick's price. When
	// false such buckets are left unfilled and the series starts at the
	// first tick's bucket.
	SeedLeadingGaps bool
}

// TickSource yields ticks in input order. Next returns io.EOF at the end of
// the stream; any other error aborts aggregation.
type TickSource interface {
	Next() (models.Tick, error)
}

// DayResult holds the bars emitted for one day, keyed by timeframe, plus the
// day's final close for threading into the next day's aggregation.
type DayResult struct {
	Bars map[models.Timeframe][]models.Bar

	// LastClose is the forward-fill seed for the following day. Nil when the
	// day produced no bars (cold start with no data and no seed).
	LastClose *decimal.Decimal

	// OutOfOrder counts records skipped under SkipOutOfOrder.
	OutOfOrder int
}

// Aggregator converts one day's tick stream into bars at each configured
// timeframe. Instances are single-use per day; accumulator state never
// crosses job boundaries. The previous day's final close travels explicitly
// through AggregateDay's prevClose parameter.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an aggregator. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

// AggregateDay consumes the tick stream once and returns, for every
// configured timeframe, a gapless bar sequence covering [day, day+24h).
// Buckets with no trades are forward-filled from the last emitted close;
// prevClose seeds the fill before the day's first tick. Ticks are assumed
// non-decreasing in timestamp; violations are handled per the ordering
// policy.
func (a *Aggregator) AggregateDay(ctx context.Context, day time.Time, prevClose *decimal.Decimal, ticks TickSource) (*DayResult, error) {
	dayStart := BucketStart(day, models.Timeframe1d)
	dayEnd := dayStart.Add(24 * time.Hour)

	accs := make([]*accumulator, len(a.cfg.Timeframes))
	for i, tf := range a.cfg.Timeframes {
		accs[i] = newAccumulator(tf, dayStart, prevClose)
	}

	result := &DayResult{Bars: make(map[models.Timeframe][]models.Bar, len(accs))}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tick, err := ticks.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if tick.Timestamp.Before(dayStart) || !tick.Timestamp.Before(dayEnd) {
			// Ticks outside the declared span would break gaplessness; the
			// archive occasionally leaks the neighbor day's first prints.
			a.logger.Debug("dropping tick outside day span",
				"timestamp", tick.Timestamp,
				"day", dayStart.Format("2006-01-02"))
			continue
		}

		// Detect ordering violations before mutating any accumulator so a
		// skipped record is skipped for every timeframe alike.
		if oErr := firstOrderingViolation(accs, tick.Timestamp); oErr != nil {
			if a.cfg.Ordering == AbortOnOutOfOrder {
				return nil, oErr
			}
			result.OutOfOrder++
			a.logger.Warn("skipping out-of-order tick",
				"timestamp", tick.Timestamp,
				"open_bucket", oErr.BucketStart)
			continue
		}

		for _, acc := range accs {
			acc.addTick(tick, a.cfg.SeedLeadingGaps)
		}
	}

	for i, acc := range accs {
		bars := acc.finish(dayEnd)
		result.Bars[a.cfg.Timeframes[i]] = bars
	}

	// Every timeframe ends on the same final close; take it from the first.
	if len(accs) > 0 && accs[0].hasClose {
		last := accs[0].lastClose
		result.LastClose = &last
	}

	return result, nil
}

// firstOrderingViolation reports the strictest violated bucket, or nil when
// the tick is acceptable everywhere. Bucket starts nest across timeframes,
// so the smallest timeframe fails first.
func firstOrderingViolation(accs []*accumulator, ts time.Time) *apperrors.OrderingError {
	for _, acc := range accs {
		if acc.hasBucket && BucketStart(ts, acc.tf).Before(acc.bucket) {
			return &apperrors.OrderingError{Timestamp: ts, BucketStart: acc.bucket}
		}
	}
	return nil
}

// accumulator is the open-bar state for one timeframe. It owns the emitted
// bar slice; nextEmit tracks the start of the next bucket whose bar has not
// been emitted yet, which keeps the output gapless by construction.
type accumulator struct {
	tf       models.Timeframe
	nextEmit time.Time

	hasBucket bool
	bucket    time.Time
	open      decimal.Decimal
	high      decimal.Decimal
	low       decimal.Decimal
	close     decimal.Decimal
	volume    decimal.Decimal
	trades    int64

	hasClose  bool
	lastClose decimal.Decimal

	bars []models.Bar
}

func newAccumulator(tf models.Timeframe, dayStart time.Time, prevClose *decimal.Decimal) *accumulator {
	acc := &accumulator{tf: tf, nextEmit: dayStart}
	if prevClose != nil {
		acc.lastClose = *prevClose
		acc.hasClose = true
	}
	return acc
}

// addTick folds one in-order tick into the accumulator, closing and
// gap-filling buckets as needed. Ordering violations must be filtered out by
// the caller beforehand.
func (acc *accumulator) addTick(tick models.Tick, seedLeadingGaps bool) {
	tb := BucketStart(tick.Timestamp, acc.tf)

	if !acc.hasBucket {
		if !acc.hasClose && seedLeadingGaps {
			acc.lastClose = tick.Price
			acc.hasClose = true
		}
		acc.fillTo(tb)
		acc.openBucket(tb, tick)
		return
	}

	if tb.Equal(acc.bucket) {
		acc.high = decimal.Max(acc.high, tick.Price)
		acc.low = decimal.Min(acc.low, tick.Price)
		acc.close = tick.Price
		acc.volume = acc.volume.Add(tick.Size)
		acc.trades++
		return
	}

	acc.closeBucket()
	acc.fillTo(tb)
	acc.openBucket(tb, tick)
}

// openBucket starts a new bucket with the tick as its first contribution.
func (acc *accumulator) openBucket(bucket time.Time, tick models.Tick) {
	acc.hasBucket = true
	acc.bucket = bucket
	acc.open = tick.Price
	acc.high = tick.Price
	acc.low = tick.Price
	acc.close = tick.Price
	acc.volume = tick.Size
	acc.trades = 1
}

// closeBucket emits the open bucket's bar and records its close as the
// forward-fill source.
func (acc *accumulator) closeBucket() {
	acc.bars = append(acc.bars, models.Bar{
		BucketStart: acc.bucket,
		Open:        acc.open,
		High:        acc.high,
		Low:         acc.low,
		Close:       acc.close,
		Volume:      acc.volume,
		Trades:      acc.trades,
	})
	acc.lastClose = acc.close
	acc.hasClose = true
	acc.nextEmit = acc.bucket.Add(acc.tf.Duration())
	acc.hasBucket = false
}

// fillTo emits flat gap bars for every bucket in [nextEmit, target). With no
// fill source yet (cold start) the empty leading buckets are skipped and the
// series starts at target.
func (acc *accumulator) fillTo(target time.Time) {
	if !acc.hasClose {
		acc.nextEmit = target
		return
	}
	for acc.nextEmit.Before(target) {
		acc.bars = append(acc.bars, models.NewGapBar(acc.nextEmit, acc.lastClose))
		acc.nextEmit = acc.nextEmit.Add(acc.tf.Duration())
	}
}

// finish closes any open bucket and forward-fills the remainder of the span.
func (acc *accumulator) finish(spanEnd time.Time) []models.Bar {
	if acc.hasBucket {
		acc.closeBucket()
	}
	acc.fillTo(spanEnd)
	return acc.bars
}
