package fetch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"github.com/tickdata/go-bybit-ohlcv/internal/config"
	apperrors "github.com/tickdata/go-bybit-ohlcv/internal/errors"
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// Client downloads daily archives from the Bybit public file host. One
// client is shared across all jobs of a batch; the rate limiter keeps the
// request rate polite toward the single archive host.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	futuresRoot string
	spotRoot    string
	userAgent   string
	logger      *slog.Logger
}

// NewClient builds an archive client from the fetch configuration.
func NewClient(cfg *config.AppConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, err := cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.Fetch.RequestsPerSecond), 1),
		futuresRoot: cfg.Fetch.FuturesRoot,
		spotRoot:    cfg.Fetch.SpotRoot,
		userAgent:   cfg.Fetch.UserAgent,
		logger:      logger,
	}, nil
}

// ArchiveURL returns the daily archive URL for a job. Futures and spot use
// different roots and file naming: trading/SYM/SYM2024-01-15.csv.gz versus
// spot/SYM/SYM_2024-01-15.csv.gz.
func (c *Client) ArchiveURL(job models.FetchJob) string {
	switch job.Market {
	case models.MarketSpot:
		return fmt.Sprintf("%s/%s/%s_%s.csv.gz", c.spotRoot, job.Symbol, job.Symbol, job.DateString())
	default:
		return fmt.Sprintf("%s/%s/%s%s.csv.gz", c.futuresRoot, job.Symbol, job.Symbol, job.DateString())
	}
}

// listingURL returns the archive directory URL for a symbol.
func (c *Client) listingURL(symbol string, market models.MarketType) string {
	root := c.futuresRoot
	if market == models.MarketSpot {
		root = c.spotRoot
	}
	return fmt.Sprintf("%s/%s/", root, symbol)
}

// FetchListing downloads the directory listing page for a symbol.
func (c *Client) FetchListing(ctx context.Context, symbol string, market models.MarketType) (string, error) {
	url := c.listingURL(symbol, market)
	body, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, 16<<20))
	if err != nil {
		return "", &apperrors.NetworkError{URL: url, Err: err}
	}
	return string(data), nil
}

// Download fetches the job's archive into dir and returns the path of the
// compressed file. The file is removed by the caller after decompression.
func (c *Client) Download(ctx context.Context, job models.FetchJob, dir string) (string, error) {
	url := c.ArchiveURL(job)

	body, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	f, err := os.CreateTemp(dir, job.DateString()+"_*.csv.gz")
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", &apperrors.NetworkError{URL: url, Err: err}
	}

	c.logger.Debug("downloaded archive",
		"url", url,
		"bytes", n,
		"path", f.Name())
	return f.Name(), nil
}

// Decompress expands a downloaded .csv.gz archive next to itself and returns
// the path of the plain CSV file.
func (c *Client) Decompress(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", &apperrors.DecompressionError{Path: path, Err: err}
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", &apperrors.DecompressionError{Path: path, Err: err}
	}
	defer gz.Close()

	outPath := path + ".csv"
	out, err := os.Create(outPath)
	if err != nil {
		return "", &apperrors.DecompressionError{Path: path, Err: err}
	}

	_, err = io.Copy(out, gz)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
		return "", &apperrors.DecompressionError{Path: path, Err: err}
	}
	return outPath, nil
}

// get issues one rate-limited request and classifies failures. Any non-200
// status is a NetworkError; the caller's retry policy treats them all as
// retryable because the archive host intermittently serves 403 and 5xx for
// files that exist.
func (c *Client) get(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &apperrors.NetworkError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &apperrors.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
