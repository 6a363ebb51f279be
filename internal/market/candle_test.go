package market

import "testing"

func TestNormalizeSortsAscending(t *testing.T) {
	candles := []Candle{
		{Timestamp: 3000, Close: 3},
		{Timestamp: 1000, Close: 1},
		{Timestamp: 2000, Close: 2},
	}

	out := Normalize(candles)

	if len(out) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp <= out[i-1].Timestamp {
			t.Errorf("candles not sorted at index %d: %d <= %d", i, out[i].Timestamp, out[i-1].Timestamp)
		}
	}
}

func TestNormalizeDropsDuplicateTimestamps(t *testing.T) {
	candles := []Candle{
		{Timestamp: 1000, Close: 1},
		{Timestamp: 2000, Close: 2},
		{Timestamp: 2000, Close: 2.5}, // duplicate, later value wins
		{Timestamp: 3000, Close: 3},
	}

	out := Normalize(candles)

	if len(out) != 3 {
		t.Fatalf("expected 3 candles after dedup, got %d", len(out))
	}
	if out[1].Close != 2.5 {
		t.Errorf("expected duplicate to keep last value 2.5, got %f", out[1].Close)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if out := Normalize(nil); len(out) != 0 {
		t.Errorf("expected empty output, got %d candles", len(out))
	}
}

func TestCandleHelpers(t *testing.T) {
	c := Candle{Open: 100, High: 110, Low: 95, Close: 105}

	if !c.IsBullish() || c.IsBearish() {
		t.Error("candle closing above open should be bullish")
	}
	if c.Body() != 5 {
		t.Errorf("expected body 5, got %f", c.Body())
	}
	if c.Range() != 15 {
		t.Errorf("expected range 15, got %f", c.Range())
	}
}
