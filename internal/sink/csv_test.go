package sink

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

func testJob() models.FetchJob {
	return models.NewFetchJob("BTCUSDT", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), models.MarketFutures)
}

func testBars(t *testing.T) []models.Bar {
	t.Helper()
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	open := decimal.RequireFromString("42000.5")
	return []models.Bar{
		{
			BucketStart: day,
			Open:        open,
			High:        decimal.RequireFromString("42100"),
			Low:         decimal.RequireFromString("41950.25"),
			Close:       decimal.RequireFromString("42050"),
			Volume:      decimal.RequireFromString("12.345"),
			Trades:      17,
		},
		models.NewGapBar(day.Add(time.Minute), decimal.RequireFromString("42050")),
	}
}

func TestCSVSinkWriteDay(t *testing.T) {
	root := t.TempDir()
	s := NewCSVSink(root, nil)
	job := testJob()

	err := s.WriteDay(context.Background(), job, models.Timeframe1m, testBars(t))
	require.NoError(t, err)

	path := filepath.Join(root, "BTCUSDT", "futures", "BTCUSDT_2024-01-15_1m.csv")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"timestamp", "datetime", "open", "high", "low", "close", "volume", "trades"}, rows[0])
	assert.Equal(t, []string{"1705276800", "2024-01-15 00:00:00", "42000.5", "42100", "41950.25", "42050", "12.345", "17"}, rows[1])
	assert.Equal(t, []string{"1705276860", "2024-01-15 00:01:00", "42050", "42050", "42050", "42050", "0", "0"}, rows[2])
}

func TestCSVSinkExists(t *testing.T) {
	root := t.TempDir()
	s := NewCSVSink(root, nil)
	job := testJob()

	exists, err := s.Exists(job, models.Timeframe1m)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.WriteDay(context.Background(), job, models.Timeframe1m, testBars(t)))

	exists, err = s.Exists(job, models.Timeframe1m)
	require.NoError(t, err)
	assert.True(t, exists)

	// Other timeframes of the same job are independent.
	exists, err = s.Exists(job, models.Timeframe1h)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCSVSinkOverwrite(t *testing.T) {
	root := t.TempDir()
	s := NewCSVSink(root, nil)
	job := testJob()
	ctx := context.Background()

	require.NoError(t, s.WriteDay(ctx, job, models.Timeframe1m, testBars(t)))
	require.NoError(t, s.WriteDay(ctx, job, models.Timeframe1m, testBars(t)[:1]))

	f, err := os.Open(filepath.Join(root, "BTCUSDT", "futures", "BTCUSDT_2024-01-15_1m.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCSVSinkLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s := NewCSVSink(root, nil)
	job := testJob()

	require.NoError(t, s.WriteDay(context.Background(), job, models.Timeframe1m, testBars(t)))

	entries, err := os.ReadDir(filepath.Join(root, "BTCUSDT", "futures", "temp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCSVSinkCancelledContextWritesNothing(t *testing.T) {
	root := t.TempDir()
	s := NewCSVSink(root, nil)
	job := testJob()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WriteDay(ctx, job, models.Timeframe1m, testBars(t))
	require.Error(t, err)

	exists, statErr := s.Exists(job, models.Timeframe1m)
	require.NoError(t, statErr)
	assert.False(t, exists)
}
