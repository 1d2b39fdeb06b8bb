package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents OHLCV data for one fixed time bucket. BucketStart is always
// aligned to the bar's timeframe relative to the Unix epoch. Bars are never
// mutated after the aggregator emits them.
type Bar struct {
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	Trades      int64
}

// NewGapBar builds a forward-filled bar for a bucket with no trading activity:
// all four prices equal the previous close, volume and trade count are zero.
func NewGapBar(bucketStart time.Time, prevClose decimal.Decimal) Bar {
	return Bar{
		BucketStart: bucketStart,
		Open:        prevClose,
		High:        prevClose,
		Low:         prevClose,
		Close:       prevClose,
		Volume:      decimal.Zero,
		Trades:      0,
	}
}

// IsGapFill reports whether the bar looks like a synthesized gap bar:
// zero trades with a flat OHLC.
func (b *Bar) IsGapFill() bool {
	return b.Trades == 0 && b.Open.Equal(b.Close) && b.High.Equal(b.Low) && b.Open.Equal(b.High)
}

// Validate checks the OHLC ordering invariant: low <= {open, close} <= high,
// plus non-negative volume and trade count, and a non-zero bucket start.
func (b *Bar) Validate() error {
	if b.BucketStart.IsZero() {
		return &ValidationError{Field: "bucket_start", Message: "bucket start cannot be zero"}
	}
	maxOC := decimal.Max(b.Open, b.Close)
	if b.High.LessThan(maxOC) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high (%s) must be >= max(open, close) (%s)", b.High, maxOC),
		}
	}
	minOC := decimal.Min(b.Open, b.Close)
	if b.Low.GreaterThan(minOC) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low (%s) must be <= min(open, close) (%s)", b.Low, minOC),
		}
	}
	if b.Volume.IsNegative() {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}
	if b.Trades < 0 {
		return &ValidationError{Field: "trades", Message: "trade count must be greater than or equal to 0"}
	}
	return nil
}

// String implements fmt.Stringer.
func (b *Bar) String() string {
	return fmt.Sprintf("Bar{T: %s, O: %s, H: %s, L: %s, C: %s, V: %s, N: %d}",
		b.BucketStart.UTC().Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume, b.Trades)
}
