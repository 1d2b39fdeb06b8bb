package fetch

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// archiveDatePattern matches the date embedded in an archive file name inside
// a directory listing. Futures files are named SYMBOL2024-01-15.csv.gz and
// spot files SYMBOL_2024-01-15.csv.gz; matching just the dated .csv.gz tail
// covers both.
var archiveDatePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\.csv\.gz`)

// DateRange is an inclusive span of trading days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days expands the range into per-day UTC midnights in ascending order.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = d.Add(24 * time.Hour) {
		days = append(days, d)
	}
	return days
}

// ParseDateRange parses start and end strings in YYYY-MM-DD form. An empty
// end defaults to start (a single day).
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := parseDay(start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date: %w", err)
	}
	e := s
	if end != "" {
		e, err = parseDay(end)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid end date: %w", err)
		}
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return DateRange{Start: s, End: e}, nil
}

func parseDay(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return d.UTC(), nil
}

// DiscoverRange scans the archive directory listing for a symbol and returns
// the span of days actually available, used by the full-history mode where
// the caller gives no explicit dates.
func (c *Client) DiscoverRange(ctx context.Context, symbol string, market models.MarketType) (DateRange, error) {
	listing, err := c.FetchListing(ctx, symbol, market)
	if err != nil {
		return DateRange{}, err
	}

	dates := listedDates(listing)
	if len(dates) == 0 {
		return DateRange{}, fmt.Errorf("no daily archives listed for %s/%s", symbol, market)
	}
	return DateRange{Start: dates[0], End: dates[len(dates)-1]}, nil
}

// ListedDays returns every archive day present in the symbol's directory
// listing, sorted ascending. Unlike DiscoverRange it preserves holes in the
// listing, so coverage reports see exactly what the host serves.
func (c *Client) ListedDays(ctx context.Context, symbol string, market models.MarketType) ([]time.Time, error) {
	listing, err := c.FetchListing(ctx, symbol, market)
	if err != nil {
		return nil, err
	}
	return listedDates(listing), nil
}

// listedDates extracts and sorts the unique archive dates from a directory
// listing page.
func listedDates(listing string) []time.Time {
	seen := make(map[time.Time]bool)
	for _, m := range archiveDatePattern.FindAllStringSubmatch(listing, -1) {
		if d, err := parseDay(m[1]); err == nil {
			seen[d] = true
		}
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
