// Package validator checks aggregated bar series for logical consistency
// before they are persisted. Validation failures indicate an aggregation bug,
// not bad input data, so they fail the job rather than being counted.
package validator

import (
	"fmt"
	"time"

	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// SeriesValidator validates one day's bar series for a single timeframe.
type SeriesValidator struct{}

// New creates a series validator.
func New() *SeriesValidator {
	return &SeriesValidator{}
}

// ValidateDay checks a day's series: every bar internally consistent, bucket
// starts aligned and strictly contiguous, all bars inside [day, day+24h), and
// gap bars flat at zero volume. An empty series is valid (a cold-start day
// with no data).
func (v *SeriesValidator) ValidateDay(day time.Time, tf models.Timeframe, bars []models.Bar) error {
	dayEnd := day.Add(24 * time.Hour)

	for i := range bars {
		b := &bars[i]
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar %d (%s): %w", i, b.BucketStart.Format(time.RFC3339), err)
		}

		if b.BucketStart.Before(day) || !b.BucketStart.Before(dayEnd) {
			return fmt.Errorf("bar %d at %s outside day %s", i, b.BucketStart.Format(time.RFC3339), day.Format("2006-01-02"))
		}
		if b.BucketStart.Unix()%tf.Seconds() != 0 {
			return fmt.Errorf("bar %d at %s not aligned to %s", i, b.BucketStart.Format(time.RFC3339), tf)
		}
		if i > 0 {
			expect := bars[i-1].BucketStart.Add(tf.Duration())
			if !b.BucketStart.Equal(expect) {
				return fmt.Errorf("bar %d at %s breaks continuity, expected %s",
					i, b.BucketStart.Format(time.RFC3339), expect.Format(time.RFC3339))
			}
		}

		if b.Trades == 0 {
			if !b.Volume.IsZero() {
				return fmt.Errorf("bar %d has volume %s with zero trades", i, b.Volume)
			}
			if !b.Open.Equal(b.High) || !b.Open.Equal(b.Low) || !b.Open.Equal(b.Close) {
				return fmt.Errorf("bar %d is a gap bar but not flat", i)
			}
		}
	}

	// A series that starts at midnight must cover the whole day.
	if len(bars) > 0 && bars[0].BucketStart.Equal(day) {
		want := 86400 / tf.Seconds()
		if int64(len(bars)) != want {
			return fmt.Errorf("series covers %d of %d expected %s buckets", len(bars), want, tf)
		}
	}

	return nil
}
