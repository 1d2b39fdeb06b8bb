package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdata/go-bybit-ohlcv/internal/config"
	apperrors "github.com/tickdata/go-bybit-ohlcv/internal/errors"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
	"github.com/tickdata/go-bybit-ohlcv/internal/sink"
)

// archiveServer serves gzip tick archives from an in-memory map and counts
// requests per path.
type archiveServer struct {
	mu       sync.Mutex
	files    map[string][]byte
	hits     map[string]int
	failures map[string]int // serve this many 500s before succeeding
	server   *httptest.Server
}

func newArchiveServer(t *testing.T) *archiveServer {
	t.Helper()
	as := &archiveServer{
		files:    make(map[string][]byte),
		hits:     make(map[string]int),
		failures: make(map[string]int),
	}
	as.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		as.mu.Lock()
		defer as.mu.Unlock()
		as.hits[r.URL.Path]++
		if as.failures[r.URL.Path] > 0 {
			as.failures[r.URL.Path]--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		data, ok := as.files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(as.server.Close)
	return as
}

func (as *archiveServer) hitCount(path string) int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.hits[path]
}

// futuresPath returns the archive path for a futures day.
func futuresPath(symbol, date string) string {
	return fmt.Sprintf("/trading/%s/%s%s.csv.gz", symbol, symbol, date)
}

// gzArchive builds a futures-format archive from (secondsIntoDay, price,
// size) rows for the given day.
func gzArchive(t *testing.T, date string, rows [][3]string) []byte {
	t.Helper()
	day, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	fmt.Fprintln(gz, "timestamp,symbol,side,size,price,tickDirection,trdMatchID")
	for _, row := range rows {
		var offset float64
		fmt.Sscanf(row[0], "%f", &offset)
		ts := float64(day.Unix()) + offset
		fmt.Fprintf(gz, "%f,BTCUSDT,Buy,%s,%s,PlusTick,0\n", ts, row[2], row[1])
	}
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func testSetup(t *testing.T, as *archiveServer) (*config.AppConfig, *Orchestrator, string) {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Fetch.FuturesRoot = as.server.URL + "/trading"
	cfg.Fetch.SpotRoot = as.server.URL + "/spot"
	cfg.Fetch.RequestsPerSecond = 1000
	cfg.Aggregation.Timeframes = []string{"1m"}
	cfg.Output.RootDir = root
	require.NoError(t, cfg.Validate())

	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	barSink := sink.NewCSVSink(root, nil)
	orch, err := NewOrchestrator(cfg, client, barSink, nil)
	require.NoError(t, err)
	orch.retryer.Sleep = func(context.Context, time.Duration) error { return nil }

	return cfg, orch, root
}

func readBarFile(t *testing.T, root, symbol, market, date, tf string) [][]string {
	t.Helper()
	path := filepath.Join(root, symbol, market, fmt.Sprintf("%s_%s_%s.csv", symbol, date, tf))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestOrchestratorWritesDay(t *testing.T) {
	as := newArchiveServer(t)
	as.files[futuresPath("BTCUSDT", "2024-01-15")] = gzArchive(t, "2024-01-15", [][3]string{
		{"30.5", "42000", "1.5"},
		{"95.25", "42100", "0.5"},
	})

	_, orch, root := testSetup(t, as)
	jobs := []models.FetchJob{
		models.NewFetchJob("BTCUSDT", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), models.MarketFutures),
	}

	summary, err := orch.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 0, summary.Failed)

	result := summary.Results[0]
	assert.Equal(t, models.StatusWritten, result.Status)
	assert.Equal(t, 1, result.Attempts)

	rows := readBarFile(t, root, "BTCUSDT", "futures", "2024-01-15", "1m")
	// Header plus the full 1440 minutes: the first tick lands in minute zero.
	assert.Len(t, rows, 1+1440)
	assert.Equal(t, result.BarsWritten[models.Timeframe1m], len(rows)-1)
	assert.Equal(t, "42000", rows[1][2]) // first bar opens at the first trade
}

func TestOrchestratorRetriesTransientFailures(t *testing.T) {
	as := newArchiveServer(t)
	path := futuresPath("BTCUSDT", "2024-01-15")
	as.files[path] = gzArchive(t, "2024-01-15", [][3]string{{"10", "100", "1"}})
	as.failures[path] = 2

	_, orch, _ := testSetup(t, as)
	jobs := []models.FetchJob{
		models.NewFetchJob("BTCUSDT", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), models.MarketFutures),
	}

	summary, err := orch.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 3, summary.Results[0].Attempts)
	assert.Equal(t, 3, as.hitCount(path))
}

func TestOrchestratorExhaustsRetries(t *testing.T) {
	as := newArchiveServer(t)
	path := futuresPath("BTCUSDT", "2024-01-15")

	_, orch, _ := testSetup(t, as)
	jobs := []models.FetchJob{
		models.NewFetchJob("BTCUSDT", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), models.MarketFutures),
	}

	summary, err := orch.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.StatusFailed, summary.Results[0].Status)
	assert.Equal(t, 3, summary.Results[0].Attempts)
	assert.Equal(t, 3, as.hitCount(path))

	// Exhausted attempts still count toward the retry metric.
	assert.Equal(t, int64(2), orch.metrics.Snapshot().DownloadRetries)
}

func TestOrchestratorRetriesCorruptArchive(t *testing.T) {
	as := newArchiveServer(t)
	path := futuresPath("BTCUSDT", "2024-01-15")
	as.files[path] = []byte("not gzip data")

	_, orch, _ := testSetup(t, as)
	jobs := []models.FetchJob{
		models.NewFetchJob("BTCUSDT", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), models.MarketFutures),
	}

	summary, err := orch.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)

	// A corrupt payload is re-downloaded from scratch each attempt.
	result := summary.Results[0]
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, as.hitCount(path))

	var gzErr *apperrors.DecompressionError
	assert.ErrorAs(t, result.Err, &gzErr)
	assert.Equal(t, int64(2), orch.metrics.Snapshot().DownloadRetries)
}

func TestOrchestratorSkipsExistingOutputs(t *testing.T) {
	as := newArchiveServer(t)
	path := futuresPath("BTCUSDT", "2024-01-15")
	as.files[path] = gzArchive(t, "2024-01-15", [][3]string{{"10", "100", "1"}})

	_, orch, _ := testSetup(t, as)
	jobs := []models.FetchJob{
		models.NewFetchJob("BTCUSDT", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), models.MarketFutures),
	}

	first, err := orch.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Equal(t, 1, first.Written)
	require.Equal(t, 1, as.hitCount(path))

	second, err := orch.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, models.StatusSkippedExisting, second.Results[0].Status)
	// No network traffic for a skipped job.
	assert.Equal(t, 1, as.hitCount(path))
}

func TestOrchestratorThreadsCloseAcrossDays(t *testing.T) {
	as := newArchiveServer(t)
	as.files[futuresPath("BTCUSDT", "2024-01-15")] = gzArchive(t, "2024-01-15", [][3]string{
		{"3600", "100", "1"},
		{"7200", "150.5", "2"},
	})
	as.files[futuresPath("BTCUSDT", "2024-01-16")] = gzArchive(t, "2024-01-16", [][3]string{
		{"36000", "200", "1"},
	})

	_, orch, root := testSetup(t, as)
	jobs := []models.FetchJob{
		models.NewFetchJob("BTCUSDT", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), models.MarketFutures),
		models.NewFetchJob("BTCUSDT", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), models.MarketFutures),
	}

	summary, err := orch.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Written)

	// Day two starts gapless at midnight, filled from day one's close.
	rows := readBarFile(t, root, "BTCUSDT", "futures", "2024-01-16", "1m")
	require.Len(t, rows, 1+1440)
	assert.Equal(t, "150.5", rows[1][2])
	assert.Equal(t, "150.5", rows[1][5])
	assert.Equal(t, "0", rows[1][6])
}

func TestOrchestratorBatchContinuesPastIsolatedFailure(t *testing.T) {
	as := newArchiveServer(t)
	as.files[futuresPath("BTCUSDT", "2024-01-15")] = gzArchive(t, "2024-01-15", [][3]string{{"10", "100", "1"}})
	// 2024-01-16 missing: the archive 404s.
	as.files[futuresPath("BTCUSDT", "2024-01-17")] = gzArchive(t, "2024-01-17", [][3]string{{"10", "110", "1"}})

	_, orch, _ := testSetup(t, as)
	r, err := ParseDateRange("2024-01-15", "2024-01-17")
	require.NoError(t, err)
	jobs := BuildJobs("BTCUSDT", models.MarketFutures, r)

	summary, err := orch.Run(context.Background(), jobs)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Written)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"2024-01-16"}, summary.FailedDates())
}

func TestOrchestratorConsecutiveFailureGuard(t *testing.T) {
	as := newArchiveServer(t)
	// Nothing served at all: every job 404s.

	_, orch, _ := testSetup(t, as)
	r, err := ParseDateRange("2024-01-15", "2024-01-19")
	require.NoError(t, err)
	jobs := BuildJobs("BTCUSDT", models.MarketFutures, r)

	summary, err := orch.Run(context.Background(), jobs)
	require.Error(t, err)
	// The batch stops after the third consecutive failure.
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 3, summary.Total)
}

func TestBuildJobsExpandsBoth(t *testing.T) {
	r, err := ParseDateRange("2024-01-15", "2024-01-16")
	require.NoError(t, err)

	jobs := BuildJobs("BTCUSDT", models.MarketBoth, r)
	require.Len(t, jobs, 4)
	assert.Equal(t, models.MarketFutures, jobs[0].Market)
	assert.Equal(t, models.MarketFutures, jobs[1].Market)
	assert.Equal(t, models.MarketSpot, jobs[2].Market)
	assert.Equal(t, models.MarketSpot, jobs[3].Market)
	for _, j := range jobs {
		assert.NoError(t, j.Validate())
	}
}
