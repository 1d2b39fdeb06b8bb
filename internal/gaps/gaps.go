// Package gaps reports days that are listed in the remote archive but have
// no local output yet. It compares the archive directory listing against the
// sink's existence check, the same check the orchestrator uses to skip jobs,
// so a day reported here is exactly a day a fetch run would process.
package gaps

import (
	"sort"
	"time"

	"github.com/tickdata/go-bybit-ohlcv/internal/models"
	"github.com/tickdata/go-bybit-ohlcv/internal/sink"
)

// Report describes the coverage of one (symbol, market) series.
type Report struct {
	Symbol  string
	Market  models.MarketType
	Listed  int
	Covered int
	Missing []time.Time
}

// Complete reports whether every listed day has output.
func (r *Report) Complete() bool {
	return len(r.Missing) == 0
}

// FindMissingDays compares the listed archive days against the sink. A day
// counts as covered only when every requested timeframe exists, matching the
// orchestrator's skip rule.
func FindMissingDays(symbol string, market models.MarketType, listed []time.Time, timeframes []models.Timeframe, barSink sink.BarSink) (*Report, error) {
	report := &Report{Symbol: symbol, Market: market, Listed: len(listed)}

	for _, day := range listed {
		job := models.NewFetchJob(symbol, day, market)
		covered := true
		for _, tf := range timeframes {
			exists, err := barSink.Exists(job, tf)
			if err != nil {
				return nil, err
			}
			if !exists {
				covered = false
				break
			}
		}
		if covered {
			report.Covered++
		} else {
			report.Missing = append(report.Missing, day)
		}
	}

	sort.Slice(report.Missing, func(i, j int) bool {
		return report.Missing[i].Before(report.Missing[j])
	})
	return report, nil
}
