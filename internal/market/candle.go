package market

import (
	"sort"
	"time"
)

// Candle represents a single OHLCV bar.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // Unix milliseconds, bar open time
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Time returns the candle open time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

// Body returns the absolute body size.
func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-low range.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Normalize sorts candles ascending by timestamp and drops duplicate
// timestamps, keeping the last occurrence. All analysis code assumes a
// normalized series.
func Normalize(candles []Candle) []Candle {
	if len(candles) == 0 {
		return candles
	}

	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	out := sorted[:0]
	for _, c := range sorted {
		if len(out) > 0 && out[len(out)-1].Timestamp == c.Timestamp {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// Closes extracts the close prices of a series.
func Closes(candles []Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
