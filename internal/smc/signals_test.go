package smc

import (
	"math"
	"strings"
	"testing"

	"smc-trading-engine/internal/market"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func confluenceAnalysis() *Analysis {
	return &Analysis{
		LiquidityZones: []LiquidityZone{
			{Type: ZoneLow, Price: 100, Strength: 0.8, Timestamp: 1},
		},
		OrderBlocks: []OrderBlock{
			{Type: BlockBullish, Price: 100.1, Strength: 0.8},
		},
	}
}

func TestGenerateSignalsBuyConfluence(t *testing.T) {
	a := NewAnalyzer(DefaultParams())
	signals := a.GenerateSignals(confluenceAnalysis(), 100, "1h", nil)

	if len(signals) != 1 {
		t.Fatalf("expected exactly 1 signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Type != SignalBuy {
		t.Errorf("expected BUY, got %s", s.Type)
	}
	if !almostEqual(s.Confidence, 0.8) {
		t.Errorf("expected confidence 0.8, got %f", s.Confidence)
	}
	if !almostEqual(s.StopLoss, 99.0) {
		t.Errorf("expected stop loss 99.0, got %f", s.StopLoss)
	}
	if len(s.TakeProfit) != 2 || !almostEqual(s.TakeProfit[0], 102) || !almostEqual(s.TakeProfit[1], 104) {
		t.Errorf("expected take profits [102, 104], got %v", s.TakeProfit)
	}
	if s.EntryPrice != 100 || s.Timeframe != "1h" {
		t.Errorf("unexpected entry/timeframe: %f %s", s.EntryPrice, s.Timeframe)
	}
	if !strings.HasPrefix(s.Reason, "Liquidity Zone + Bullish Order Block") {
		t.Errorf("unexpected reason: %s", s.Reason)
	}
}

func TestGenerateSignalsSellConfluence(t *testing.T) {
	analysis := &Analysis{
		LiquidityZones: []LiquidityZone{
			{Type: ZoneHigh, Price: 100, Strength: 0.9, Timestamp: 1},
		},
		OrderBlocks: []OrderBlock{
			{Type: BlockBearish, Price: 99.9, Strength: 0.9},
		},
	}

	a := NewAnalyzer(DefaultParams())
	signals := a.GenerateSignals(analysis, 100, "4h", nil)

	if len(signals) != 1 {
		t.Fatalf("expected exactly 1 signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Type != SignalSell {
		t.Errorf("expected SELL, got %s", s.Type)
	}
	if !almostEqual(s.StopLoss, 101) {
		t.Errorf("expected stop loss 101, got %f", s.StopLoss)
	}
	if len(s.TakeProfit) != 2 || !almostEqual(s.TakeProfit[0], 98) || !almostEqual(s.TakeProfit[1], 96) {
		t.Errorf("expected take profits [98, 96], got %v", s.TakeProfit)
	}
	if !almostEqual(s.Confidence, 0.9) {
		t.Errorf("expected confidence 0.9, got %f", s.Confidence)
	}
}

func TestGenerateSignalsRequiresBothLegs(t *testing.T) {
	a := NewAnalyzer(DefaultParams())

	zoneOnly := &Analysis{
		LiquidityZones: []LiquidityZone{{Type: ZoneLow, Price: 100, Strength: 0.8}},
	}
	if signals := a.GenerateSignals(zoneOnly, 100, "1h", nil); len(signals) != 0 {
		t.Errorf("zone without order block must not signal, got %d", len(signals))
	}

	blockOnly := &Analysis{
		OrderBlocks: []OrderBlock{{Type: BlockBullish, Price: 100.1, Strength: 0.8}},
	}
	if signals := a.GenerateSignals(blockOnly, 100, "1h", nil); len(signals) != 0 {
		t.Errorf("order block without zone must not signal, got %d", len(signals))
	}
}

func TestGenerateSignalsProximityWindows(t *testing.T) {
	a := NewAnalyzer(DefaultParams())

	// Zone 2% away from price is outside the 1% window.
	farZone := confluenceAnalysis()
	farZone.LiquidityZones[0].Price = 102
	if signals := a.GenerateSignals(farZone, 100, "1h", nil); len(signals) != 0 {
		t.Errorf("distant zone must not signal, got %d", len(signals))
	}

	// Block 1% away from price is outside the 0.5% window.
	farBlock := confluenceAnalysis()
	farBlock.OrderBlocks[0].Price = 101
	if signals := a.GenerateSignals(farBlock, 100, "1h", nil); len(signals) != 0 {
		t.Errorf("distant block must not signal, got %d", len(signals))
	}
}

func TestGenerateSignalsSkipsMitigatedBlocks(t *testing.T) {
	analysis := confluenceAnalysis()
	analysis.OrderBlocks[0].Mitigated = true

	a := NewAnalyzer(DefaultParams())
	if signals := a.GenerateSignals(analysis, 100, "1h", nil); len(signals) != 0 {
		t.Errorf("mitigated block must not signal, got %d", len(signals))
	}
}

func TestGenerateSignalsStrengthThresholds(t *testing.T) {
	a := NewAnalyzer(Params{
		MinLiquidityStrength:  0.85,
		MinOrderBlockStrength: 0.8,
		MinFvgSize:            0.002,
	})

	// Zone strength 0.8 is below the 0.85 minimum.
	if signals := a.GenerateSignals(confluenceAnalysis(), 100, "1h", nil); len(signals) != 0 {
		t.Errorf("weak zone must not signal, got %d", len(signals))
	}
}

func TestGenerateSignalsConfidenceCapped(t *testing.T) {
	analysis := confluenceAnalysis()
	analysis.LiquidityZones[0].Strength = 1
	analysis.OrderBlocks[0].Strength = 1

	a := NewAnalyzer(DefaultParams())
	signals := a.GenerateSignals(analysis, 100, "1h", nil)

	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Confidence > 1 {
		t.Errorf("confidence must be capped at 1, got %f", signals[0].Confidence)
	}
}

func TestGenerateSignalsVolumeConfirmation(t *testing.T) {
	buildCandles := func(lastVolume float64, bullish bool) []market.Candle {
		candles := make([]market.Candle, 21)
		for i := range candles {
			candles[i] = bar(int64(i)*3600_000, 100, 101, 99, 100.5, 10)
		}
		last := &candles[20]
		last.Volume = lastVolume
		if bullish {
			last.Open, last.Close = 99.5, 100.8
		} else {
			last.Open, last.Close = 100.8, 99.5
		}
		return candles
	}

	a := NewAnalyzer(DefaultParams())

	// Elevated volume on a bullish candle confirms the buy.
	signals := a.GenerateSignals(confluenceAnalysis(), 100, "1h", buildCandles(50, true))
	if len(signals) != 1 {
		t.Fatalf("expected confirmed signal, got %d", len(signals))
	}
	if !strings.HasSuffix(signals[0].Reason, " + Vol Confirmed") {
		t.Errorf("expected volume suffix in reason, got %q", signals[0].Reason)
	}

	// Flat volume rejects the signal outright.
	if signals := a.GenerateSignals(confluenceAnalysis(), 100, "1h", buildCandles(10, true)); len(signals) != 0 {
		t.Errorf("flat volume must reject the signal, got %d", len(signals))
	}

	// With confirmation disabled the same flat series still signals.
	quiet := NewAnalyzer(Params{
		MinLiquidityStrength:  0.7,
		MinOrderBlockStrength: 0.8,
		MinFvgSize:            0.002,
	})
	signals = quiet.GenerateSignals(confluenceAnalysis(), 100, "1h", buildCandles(10, true))
	if len(signals) != 1 {
		t.Fatalf("expected signal with confirmation disabled, got %d", len(signals))
	}
	if strings.Contains(signals[0].Reason, "Vol Confirmed") {
		t.Errorf("reason must not claim confirmation when disabled, got %q", signals[0].Reason)
	}
}

func TestGenerateSignalsNilAnalysis(t *testing.T) {
	a := NewAnalyzer(DefaultParams())
	if signals := a.GenerateSignals(nil, 100, "1h", nil); len(signals) != 0 {
		t.Errorf("nil analysis must yield no signals, got %d", len(signals))
	}
}
