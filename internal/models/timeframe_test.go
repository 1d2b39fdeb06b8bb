package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		input   string
		want    Timeframe
		wantErr bool
	}{
		{input: "1s", want: Timeframe1s},
		{input: "1m", want: Timeframe1m},
		{input: "5m", want: Timeframe5m},
		{input: "15m", want: Timeframe15m},
		{input: "1h", want: Timeframe1h},
		{input: "4h", want: Timeframe4h},
		{input: "1d", want: Timeframe1d},
		{input: " 1M ", want: Timeframe1m},
		{input: "2m", wantErr: true},
		{input: "", wantErr: true},
		{input: "1w", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tf, err := ParseTimeframe(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tf)
		})
	}
}

func TestParseTimeframes(t *testing.T) {
	all, err := ParseTimeframes("all")
	require.NoError(t, err)
	assert.Equal(t, AllTimeframes(), all)

	// Deduplicated and reordered to ascending duration.
	tfs, err := ParseTimeframes("1h,1m,1h, 5m")
	require.NoError(t, err)
	assert.Equal(t, []Timeframe{Timeframe1m, Timeframe5m, Timeframe1h}, tfs)

	_, err = ParseTimeframes("")
	assert.Error(t, err)

	_, err = ParseTimeframes("1m,3m")
	assert.Error(t, err)
}

func TestTimeframeDurations(t *testing.T) {
	assert.Equal(t, time.Second, Timeframe1s.Duration())
	assert.Equal(t, time.Minute, Timeframe1m.Duration())
	assert.Equal(t, 5*time.Minute, Timeframe5m.Duration())
	assert.Equal(t, 15*time.Minute, Timeframe15m.Duration())
	assert.Equal(t, time.Hour, Timeframe1h.Duration())
	assert.Equal(t, 4*time.Hour, Timeframe4h.Duration())
	assert.Equal(t, 24*time.Hour, Timeframe1d.Duration())

	// A day divides evenly into every supported timeframe.
	for _, tf := range AllTimeframes() {
		assert.Zero(t, int64(86400)%tf.Seconds(), "timeframe %s", tf)
	}
}

func TestParseMarketType(t *testing.T) {
	for _, valid := range []string{"futures", "spot", "both"} {
		mt, err := ParseMarketType(valid)
		require.NoError(t, err)
		assert.Equal(t, MarketType(valid), mt)
	}

	_, err := ParseMarketType("margin")
	assert.Error(t, err)
}

func TestFetchJob(t *testing.T) {
	job := NewFetchJob("BTCUSDT", time.Date(2024, 3, 1, 17, 45, 3, 0, time.UTC), MarketFutures)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "2024-03-01", job.DateString())
	assert.Equal(t, "BTCUSDT/futures/2024-03-01", job.String())
	assert.NoError(t, job.Validate())

	both := NewFetchJob("BTCUSDT", time.Now(), MarketBoth)
	assert.Error(t, both.Validate(), "both must be expanded before reaching the orchestrator")

	empty := FetchJob{Date: time.Now(), Market: MarketSpot}
	assert.Error(t, empty.Validate())
}

func TestBatchSummary(t *testing.T) {
	mk := func(date string, status JobStatus) JobResult {
		day, err := time.Parse("2006-01-02", date)
		require.NoError(t, err)
		return JobResult{Job: NewFetchJob("BTCUSDT", day, MarketFutures), Status: status}
	}

	s := NewBatchSummary([]JobResult{
		mk("2024-03-01", StatusWritten),
		mk("2024-03-02", StatusFailed),
		mk("2024-03-03", StatusSkippedExisting),
		mk("2024-03-04", StatusFailed),
	})

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Written)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, []string{"2024-03-02", "2024-03-04"}, s.FailedDates())
	assert.NotEmpty(t, s.RunID)
}
