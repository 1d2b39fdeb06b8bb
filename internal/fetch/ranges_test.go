package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateRange(t *testing.T) {
	t.Run("explicit range", func(t *testing.T) {
		r, err := ParseDateRange("2024-01-15", "2024-01-17")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), r.Start)
		assert.Equal(t, time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), r.End)
	})

	t.Run("empty end is a single day", func(t *testing.T) {
		r, err := ParseDateRange("2024-01-15", "")
		require.NoError(t, err)
		assert.True(t, r.Start.Equal(r.End))
	})

	t.Run("end before start", func(t *testing.T) {
		_, err := ParseDateRange("2024-01-17", "2024-01-15")
		assert.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := ParseDateRange("15/01/2024", "")
		assert.Error(t, err)
	})
}

func TestDateRangeDays(t *testing.T) {
	r, err := ParseDateRange("2024-01-30", "2024-02-02")
	require.NoError(t, err)

	days := r.Days()
	require.Len(t, days, 4)
	assert.Equal(t, "2024-01-30", days[0].Format("2006-01-02"))
	assert.Equal(t, "2024-01-31", days[1].Format("2006-01-02"))
	assert.Equal(t, "2024-02-01", days[2].Format("2006-01-02"))
	assert.Equal(t, "2024-02-02", days[3].Format("2006-01-02"))
}

func TestListedDates(t *testing.T) {
	listing := `<html><body>
<a href="BTCUSDT2024-01-16.csv.gz">BTCUSDT2024-01-16.csv.gz</a>
<a href="BTCUSDT2024-01-15.csv.gz">BTCUSDT2024-01-15.csv.gz</a>
<a href="BTCUSDT2024-01-16.csv.gz">duplicate link</a>
<a href="index.html">not an archive</a>
</body></html>`

	dates := listedDates(listing)
	require.Len(t, dates, 2)
	assert.Equal(t, "2024-01-15", dates[0].Format("2006-01-02"))
	assert.Equal(t, "2024-01-16", dates[1].Format("2006-01-02"))
}

func TestListedDatesSpotNaming(t *testing.T) {
	listing := `<a href="BTCUSDT_2024-03-01.csv.gz">BTCUSDT_2024-03-01.csv.gz</a>`
	dates := listedDates(listing)
	require.Len(t, dates, 1)
	assert.Equal(t, "2024-03-01", dates[0].Format("2006-01-02"))
}
