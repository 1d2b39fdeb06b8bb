// Package models provides the data structures for tick and OHLCV bar data.
// This package contains the core domain types: ticks, bars, timeframes, and
// fetch jobs, together with their validation rules.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe identifies one of the supported bar durations.
// The set is fixed; arbitrary durations are not accepted because output file
// naming and bucket alignment both key off the canonical string form.
type Timeframe string

const (
	Timeframe1s  Timeframe = "1s"
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// timeframeSeconds maps each supported timeframe to its bucket width in seconds.
var timeframeSeconds = map[Timeframe]int64{
	Timeframe1s:  1,
	Timeframe1m:  60,
	Timeframe5m:  300,
	Timeframe15m: 900,
	Timeframe1h:  3600,
	Timeframe4h:  14400,
	Timeframe1d:  86400,
}

// AllTimeframes returns the supported timeframes in ascending duration order.
func AllTimeframes() []Timeframe {
	return []Timeframe{
		Timeframe1s, Timeframe1m, Timeframe5m, Timeframe15m,
		Timeframe1h, Timeframe4h, Timeframe1d,
	}
}

// ParseTimeframe validates a timeframe string and returns the canonical value.
// Returns an error for anything outside the supported set.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeSeconds[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe %q (supported: %v)", s, AllTimeframes())
	}
	return tf, nil
}

// ParseTimeframes parses a comma-separated timeframe list, deduplicating while
// preserving ascending duration order. The special value "all" expands to the
// full supported set.
func ParseTimeframes(s string) ([]Timeframe, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return AllTimeframes(), nil
	}

	selected := make(map[Timeframe]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tf, err := ParseTimeframe(part)
		if err != nil {
			return nil, err
		}
		selected[tf] = true
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no timeframes selected")
	}

	result := make([]Timeframe, 0, len(selected))
	for _, tf := range AllTimeframes() {
		if selected[tf] {
			result = append(result, tf)
		}
	}
	return result, nil
}

// Seconds returns the bucket width in whole seconds.
func (tf Timeframe) Seconds() int64 {
	return timeframeSeconds[tf]
}

// Duration returns the bucket width as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// Valid reports whether the timeframe is one of the supported set.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeSeconds[tf]
	return ok
}

// String implements fmt.Stringer.
func (tf Timeframe) String() string {
	return string(tf)
}
