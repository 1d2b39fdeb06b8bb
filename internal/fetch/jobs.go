package fetch

import (
	"github.com/tickdata/go-bybit-ohlcv/internal/models"
)

// BuildJobs expands a (symbol, market, range) request into per-day jobs.
// MarketBoth yields the full futures range followed by the full spot range,
// so close threading stays contiguous within each series.
func BuildJobs(symbol string, market models.MarketType, r DateRange) []models.FetchJob {
	markets := []models.MarketType{market}
	if market == models.MarketBoth {
		markets = []models.MarketType{models.MarketFutures, models.MarketSpot}
	}

	var jobs []models.FetchJob
	for _, m := range markets {
		for _, day := range r.Days() {
			jobs = append(jobs, models.NewFetchJob(symbol, day, m))
		}
	}
	return jobs
}
