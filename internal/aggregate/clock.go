// Package aggregate converts an ordered tick stream into gapless OHLCV bar
// sequences at multiple timeframes in a single pass.
package aggregate

import (
	"time"

	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// BucketStart maps a timestamp to the start of its bucket for the given
// timeframe. Alignment is epoch-relative: the result is the largest integer
// multiple of the timeframe duration (in seconds since the Unix epoch) that
// does not exceed the timestamp. Every supported timeframe divides a day
// evenly, so 1-day buckets land on 00:00:00 UTC of their date.
func BucketStart(ts time.Time, tf models.Timeframe) time.Time {
	secs := tf.Seconds()
	unix := ts.Unix()
	aligned := unix - (unix % secs)
	if unix < 0 && unix%secs != 0 {
		aligned -= secs
	}
	return time.Unix(aligned, 0).UTC()
}

// BucketIndex returns the zero-based index of the bucket containing ts within
// a span starting at spanStart. spanStart must itself be bucket-aligned.
func BucketIndex(ts, spanStart time.Time, tf models.Timeframe) int64 {
	return (ts.Unix() - spanStart.Unix()) / tf.Seconds()
}

// BucketsPerDay returns the number of buckets a full UTC day contains for the
// given timeframe.
func BucketsPerDay(tf models.Timeframe) int64 {
	return 86400 / tf.Seconds()
}
