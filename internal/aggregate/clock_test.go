package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

func TestBucketStart(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		tf   models.Timeframe
		want time.Time
	}{
		{
			name: "1s truncates sub-second",
			ts:   time.Date(2024, 1, 15, 10, 30, 45, 123456789, time.UTC),
			tf:   models.Timeframe1s,
			want: time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
		},
		{
			name: "1m mid-minute",
			ts:   time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
			tf:   models.Timeframe1m,
			want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "5m alignment",
			ts:   time.Date(2024, 1, 15, 10, 33, 12, 0, time.UTC),
			tf:   models.Timeframe5m,
			want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "15m alignment",
			ts:   time.Date(2024, 1, 15, 10, 44, 59, 0, time.UTC),
			tf:   models.Timeframe15m,
			want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "1h alignment",
			ts:   time.Date(2024, 1, 15, 10, 59, 59, 0, time.UTC),
			tf:   models.Timeframe1h,
			want: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "4h buckets are epoch aligned not session aligned",
			ts:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			tf:   models.Timeframe4h,
			want: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "1d truncates to midnight UTC",
			ts:   time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC),
			tf:   models.Timeframe1d,
			want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "already aligned is a fixed point",
			ts:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			tf:   models.Timeframe1m,
			want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketStart(tt.ts, tt.tf)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestBucketStartNonUTCInput(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2024, 1, 15, 5, 30, 0, 0, est) // 10:30 UTC
	got := BucketStart(local, models.Timeframe1h)
	assert.True(t, got.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)))
}

func TestBucketIndex(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), BucketIndex(day, day, models.Timeframe1m))
	assert.Equal(t, int64(0), BucketIndex(day.Add(59*time.Second), day, models.Timeframe1m))
	assert.Equal(t, int64(1), BucketIndex(day.Add(60*time.Second), day, models.Timeframe1m))
	assert.Equal(t, int64(630), BucketIndex(day.Add(10*time.Hour+30*time.Minute), day, models.Timeframe1m))
	assert.Equal(t, int64(5), BucketIndex(day.Add(20*time.Hour), day, models.Timeframe4h))
}

func TestBucketsPerDay(t *testing.T) {
	assert.Equal(t, int64(86400), BucketsPerDay(models.Timeframe1s))
	assert.Equal(t, int64(1440), BucketsPerDay(models.Timeframe1m))
	assert.Equal(t, int64(288), BucketsPerDay(models.Timeframe5m))
	assert.Equal(t, int64(96), BucketsPerDay(models.Timeframe15m))
	assert.Equal(t, int64(24), BucketsPerDay(models.Timeframe1h))
	assert.Equal(t, int64(6), BucketsPerDay(models.Timeframe4h))
	assert.Equal(t, int64(1), BucketsPerDay(models.Timeframe1d))
}
