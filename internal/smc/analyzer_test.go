package smc

import (
	"math"
	"testing"
	"time"

	"smc-trading-engine/internal/market"
)

func bar(ts int64, o, h, l, c, v float64) market.Candle {
	return market.Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

// flatSeries builds candles where every OHLC equals the path value.
func flatSeries(path []float64) []market.Candle {
	candles := make([]market.Candle, len(path))
	for i, p := range path {
		candles[i] = bar(int64(i)*3600_000, p, p, p, p, 100)
	}
	return candles
}

func TestAnalyzeShortSeriesReturnsEmpty(t *testing.T) {
	a := NewAnalyzer(DefaultParams())
	analysis := a.Analyze(flatSeries([]float64{100, 101, 102}))

	if analysis == nil {
		t.Fatal("expected non-nil analysis")
	}
	if len(analysis.LiquidityZones) != 0 {
		t.Errorf("expected no zones, got %d", len(analysis.LiquidityZones))
	}
	if len(analysis.MarketStructures) != 0 {
		t.Errorf("expected no structures, got %d", len(analysis.MarketStructures))
	}
}

func TestDetectLiquidityZonesSwingHigh(t *testing.T) {
	// Index 5 is a swing high at 100 with five prior bearish touches
	// within 0.1%, so the zone scores full strength.
	candles := make([]market.Candle, 11)
	for i := 0; i < 5; i++ {
		candles[i] = bar(int64(i)*3600_000, 99.9, 99.95, 99.0, 99.8, 100)
	}
	candles[5] = bar(5*3600_000, 99.9, 100, 99.0, 99.9, 100)
	for i := 6; i < 11; i++ {
		candles[i] = bar(int64(i)*3600_000, 99.4, 99.5, 99.0, 99.3, 100)
	}

	a := NewAnalyzer(Params{MinLiquidityStrength: 0.5, MinOrderBlockStrength: 0.8, MinFvgSize: 0.002})
	zones := a.DetectLiquidityZones(candles)

	if len(zones) != 1 {
		t.Fatalf("expected 1 zone, got %d", len(zones))
	}
	z := zones[0]
	if z.Type != ZoneHigh {
		t.Errorf("expected high zone, got %s", z.Type)
	}
	if z.Price != 100 {
		t.Errorf("expected zone price 100, got %f", z.Price)
	}
	if z.Strength != 1 {
		t.Errorf("expected full strength from 5 touches with rejections, got %f", z.Strength)
	}
}

func TestDetectOrderBlocksBullish(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 100.5, 99.5, 100.2, 100),
		// Aggressive sell candle: body 1.0 of range 1.3.
		bar(3600_000, 100, 100.2, 98.9, 99, 100),
		// Rejection closing back above the block open on 2x volume.
		bar(7200_000, 99.1, 100.6, 99.0, 100.5, 200),
	}

	a := NewAnalyzer(DefaultParams())
	blocks := a.DetectOrderBlocks(candles)

	if len(blocks) != 1 {
		t.Fatalf("expected 1 order block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.Type != BlockBullish {
		t.Errorf("expected bullish block, got %s", b.Type)
	}
	if b.Price != 98.9 {
		t.Errorf("expected block price at candle low 98.9, got %f", b.Price)
	}
	if b.Strength != 1 {
		t.Errorf("expected capped strength 1, got %f", b.Strength)
	}
	if b.Mitigated {
		t.Error("freshly detected blocks must not be mitigated")
	}
}

func TestDetectOrderBlocksZeroRange(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 100, 100, 100, 100),
		bar(3600_000, 100, 100, 100, 100, 100),
		bar(7200_000, 100, 101, 100, 101, 100),
	}

	a := NewAnalyzer(DefaultParams())
	if blocks := a.DetectOrderBlocks(candles); len(blocks) != 0 {
		t.Errorf("zero-range candles must not produce blocks, got %d", len(blocks))
	}
}

func TestDetectFairValueGaps(t *testing.T) {
	candles := []market.Candle{
		bar(0, 99.5, 100, 99, 99.8, 100),
		// Gaps up: low 101 above the prior high 100, a 1% imbalance.
		bar(3600_000, 101.2, 102, 101, 101.8, 100),
		bar(7200_000, 101.8, 102.5, 101.5, 102.2, 100),
	}

	a := NewAnalyzer(DefaultParams())
	gaps := a.DetectFairValueGaps(candles)

	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	g := gaps[0]
	if g.Top != 101 || g.Bottom != 100 {
		t.Errorf("expected gap [100, 101], got [%f, %f]", g.Bottom, g.Top)
	}
	if g.Top < g.Bottom {
		t.Error("gap top must not be below bottom")
	}
	if g.Midpoint != 100.5 {
		t.Errorf("expected midpoint 100.5, got %f", g.Midpoint)
	}
	if g.Filled {
		t.Error("fresh gaps must not be marked filled")
	}
}

func TestDetectFairValueGapsBearish(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100.5, 101, 100, 100.2, 100),
		// Gaps down: high 98.5 below the prior low 100.
		bar(3600_000, 98.3, 98.5, 98, 98.1, 100),
		bar(7200_000, 98.1, 98.4, 97.8, 98, 100),
	}

	a := NewAnalyzer(DefaultParams())
	gaps := a.DetectFairValueGaps(candles)

	if len(gaps) != 1 {
		t.Fatalf("expected 1 bearish gap, got %d", len(gaps))
	}
	if gaps[0].Top != 100 || gaps[0].Bottom != 98.5 {
		t.Errorf("expected gap [98.5, 100], got [%f, %f]", gaps[0].Bottom, gaps[0].Top)
	}
}

func TestDetectFairValueGapsBelowMinimum(t *testing.T) {
	candles := []market.Candle{
		bar(0, 99.9, 100, 99.5, 99.95, 100),
		// 0.05% gap, under the 0.2% default minimum.
		bar(3600_000, 100.1, 100.3, 100.05, 100.2, 100),
		bar(7200_000, 100.2, 100.4, 100.1, 100.3, 100),
	}

	a := NewAnalyzer(DefaultParams())
	if gaps := a.DetectFairValueGaps(candles); len(gaps) != 0 {
		t.Errorf("sub-threshold gap must be ignored, got %d gaps", len(gaps))
	}
}

func TestDetectBOSAndCHOCHReversalEmitsDoubleCHOCH(t *testing.T) {
	structures := []MarketStructure{
		{Type: StructureHH, Price: 110, Timestamp: 1, Direction: DirectionBullish},
		{Type: StructureHL, Price: 105, Timestamp: 2, Direction: DirectionBullish},
		{Type: StructureLL, Price: 100, Timestamp: 3, Direction: DirectionBearish},
		{Type: StructureLH, Price: 108, Timestamp: 4, Direction: DirectionBearish},
		{Type: StructureHH, Price: 115, Timestamp: 5, Direction: DirectionBullish},
	}

	breaks := detectBOSAndCHOCH(structures)

	want := []struct {
		typ StructureType
		dir Direction
		prc float64
	}{
		{StructureBOS, DirectionBullish, 110},
		{StructureCHOCH, DirectionBearish, 100},
		{StructureCHOCH, DirectionBearish, 100},
		{StructureBOS, DirectionBearish, 100},
		{StructureCHOCH, DirectionBullish, 115},
		{StructureCHOCH, DirectionBullish, 115},
		{StructureBOS, DirectionBullish, 115},
	}

	if len(breaks) != len(want) {
		t.Fatalf("expected %d breaks, got %d: %+v", len(want), len(breaks), breaks)
	}
	for i, w := range want {
		got := breaks[i]
		if got.Type != w.typ || got.Direction != w.dir || got.Price != w.prc {
			t.Errorf("break %d: expected %s %s @%f, got %s %s @%f",
				i, w.typ, w.dir, w.prc, got.Type, got.Direction, got.Price)
		}
	}
}

func TestDetectMarketStructuresLabels(t *testing.T) {
	// Zigzag with 6-candle legs: trough, rising peak, higher trough,
	// higher peak. Swing points need 5 strictly lower/higher candles on
	// each side.
	path := []float64{
		106, 105, 104, 103, 102, 101, // down to trough at index 5
		102, 103, 104, 105, 106, 110, // up to peak at index 11
		109, 108, 107, 106, 105, 103, // down to higher trough at index 17
		104, 105, 106, 107, 108, 112, // up to higher peak at index 23
		111, 110, 109, 108, 107, // tail so index 23 qualifies
	}
	candles := flatSeries(path)

	a := NewAnalyzer(DefaultParams())
	structures := a.DetectMarketStructures(candles)

	var labels []StructureType
	for _, s := range structures {
		if s.Type == StructureHH || s.Type == StructureHL || s.Type == StructureLH || s.Type == StructureLL {
			labels = append(labels, s.Type)
		}
	}

	// Each swing is labeled against the immediately previous swing point,
	// whatever its side. The first trough at 101 has no predecessor, so
	// labeling starts at the peak: 110 vs 101 is HH, 103 vs 110 is LL,
	// 112 vs 103 is HH.
	want := []StructureType{StructureHH, StructureLL, StructureHH}
	if len(labels) != len(want) {
		t.Fatalf("expected labels %v, got %v", want, labels)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("label %d: expected %s, got %s", i, want[i], labels[i])
		}
	}
}

func TestDetectBuyAndSellSideLiquidity(t *testing.T) {
	candles := make([]market.Candle, 25)
	for i := range candles {
		p := 100 + float64(i)
		candles[i] = bar(int64(i)*3600_000, p, p+1, p-1, p, 100)
	}

	highs := detectBuySideLiquidity(candles)
	lows := detectSellSideLiquidity(candles)

	if len(highs) != 20 || len(lows) != 20 {
		t.Fatalf("expected 20 levels each, got %d highs %d lows", len(highs), len(lows))
	}
	if highs[0] != 125 {
		t.Errorf("expected highest buy-side level 125 first, got %f", highs[0])
	}
	for i := 1; i < len(highs); i++ {
		if highs[i] > highs[i-1] {
			t.Error("buy-side levels must be sorted descending")
			break
		}
	}
	if lows[0] != 104 {
		t.Errorf("expected lowest sell-side level 104 first, got %f", lows[0])
	}
	for i := 1; i < len(lows); i++ {
		if lows[i] < lows[i-1] {
			t.Error("sell-side levels must be sorted ascending")
			break
		}
	}
}

func TestDetectWashTradingVolumeSpike(t *testing.T) {
	candles := make([]market.Candle, 20)
	for i := range candles {
		candles[i] = bar(int64(i)*3600_000, 100, 105, 95, 102.5, 10)
	}
	// Spike well above 5x the series average.
	candles[19].Volume = 1000

	activities := detectWashTrading(candles)

	if len(activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(activities))
	}
	if activities[0].Type != "volume_spike" || activities[0].Severity != "high" {
		t.Errorf("expected high-severity volume_spike, got %+v", activities[0])
	}
}

func TestDetectWashTradingHighVolDoji(t *testing.T) {
	candles := make([]market.Candle, 20)
	for i := range candles {
		candles[i] = bar(int64(i)*3600_000, 100, 105, 95, 102.5, 10)
	}
	// Doji body under 10% of range on nearly 3x average volume.
	candles[19] = bar(19*3600_000, 100, 105, 95, 100.2, 30)

	activities := detectWashTrading(candles)

	if len(activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(activities))
	}
	if activities[0].Type != "high_vol_doji" || activities[0].Severity != "medium" {
		t.Errorf("expected medium-severity high_vol_doji, got %+v", activities[0])
	}
}

func TestDetectWashTradingShortSeries(t *testing.T) {
	candles := make([]market.Candle, 19)
	for i := range candles {
		candles[i] = bar(int64(i)*3600_000, 100, 105, 95, 102.5, 1000)
	}
	if activities := detectWashTrading(candles); activities != nil {
		t.Errorf("series under 20 candles must yield nil, got %+v", activities)
	}
}

func TestDetectPremiumDiscountZone(t *testing.T) {
	candles := []market.Candle{
		bar(0, 100, 110, 90, 100, 100),
		bar(3600_000, 100, 108, 95, 105, 100),
	}

	zone := detectPremiumDiscountZone(candles, 50)

	if zone == nil {
		t.Fatal("expected a zone")
	}
	if zone.Equilibrium != 100 {
		t.Errorf("expected equilibrium 100, got %f", zone.Equilibrium)
	}
	if zone.Status != "PREMIUM" {
		t.Errorf("close above equilibrium must be PREMIUM, got %s", zone.Status)
	}

	candles[1].Close = 95
	zone = detectPremiumDiscountZone(candles, 50)
	if zone.Status != "DISCOUNT" {
		t.Errorf("close below equilibrium must be DISCOUNT, got %s", zone.Status)
	}
}

func TestDetectSessionLiquidity(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(hour int) int64 { return day.Add(time.Duration(hour) * time.Hour).UnixMilli() }

	candles := []market.Candle{
		bar(at(2), 100, 101, 99, 100.5, 100),  // Asia
		bar(at(9), 100, 103, 98, 102, 100),    // London
		bar(at(16), 102, 106, 101, 105, 100),  // New York
	}

	sessions := detectSessionLiquidity(candles)

	if sessions == nil {
		t.Fatal("expected session data")
	}
	if sessions.Asia == nil || sessions.Asia.High != 101 || sessions.Asia.Low != 99 {
		t.Errorf("unexpected Asia range: %+v", sessions.Asia)
	}
	if sessions.London == nil || sessions.London.High != 103 || sessions.London.Low != 98 {
		t.Errorf("unexpected London range: %+v", sessions.London)
	}
	if sessions.NewYork == nil || sessions.NewYork.High != 106 || sessions.NewYork.Low != 101 {
		t.Errorf("unexpected New York range: %+v", sessions.NewYork)
	}
}

func TestDetectSessionLiquidityIgnoresOldCandles(t *testing.T) {
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	old := day.Add(-48 * time.Hour)

	candles := []market.Candle{
		bar(old.Add(2*time.Hour).UnixMilli(), 50, 55, 45, 52, 100),
		bar(day.Add(2*time.Hour).UnixMilli(), 100, 101, 99, 100.5, 100),
	}

	sessions := detectSessionLiquidity(candles)

	if sessions == nil || sessions.Asia == nil {
		t.Fatal("expected Asia session from the recent candle")
	}
	if sessions.Asia.High != 101 {
		t.Errorf("stale candle leaked into session range: %+v", sessions.Asia)
	}
}

func TestNewAnalyzerZeroParamsFallBack(t *testing.T) {
	a := NewAnalyzer(Params{})
	p := a.Params()
	d := DefaultParams()

	if p.MinLiquidityStrength != d.MinLiquidityStrength ||
		p.MinOrderBlockStrength != d.MinOrderBlockStrength ||
		math.Abs(p.MinFvgSize-d.MinFvgSize) > 1e-12 {
		t.Errorf("zero thresholds must fall back to defaults, got %+v", p)
	}
}
