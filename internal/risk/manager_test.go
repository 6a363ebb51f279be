package risk

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"smc-trading-engine/internal/market"
	"smc-trading-engine/internal/smc"
)

func testConfig() Config {
	return Config{
		MaxRiskPerTrade:      1,
		MaxDailyLoss:         5,
		MaxPositions:         3,
		RiskRewardRatio:      2,
		PositionSizingMethod: SizingFixed,
	}
}

func newTestManager(cfg Config, balance float64) *Manager {
	return NewManager(cfg, balance, zerolog.Nop())
}

func buySignal() *smc.Signal {
	return &smc.Signal{
		Type:       smc.SignalBuy,
		EntryPrice: 100,
		StopLoss:   98,
		TakeProfit: []float64{104, 108},
		Confidence: 0.8,
	}
}

func openPosition(id string) *Position {
	return &Position{
		ID:         id,
		Symbol:     "BTCUSDT",
		Side:       SideLong,
		EntryPrice: 100,
		Quantity:   1,
		StopLoss:   98,
		TakeProfit: []float64{104},
		Status:     StatusOpen,
	}
}

func TestCalculatePositionSizeFixed(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	// Risk amount 100, stop distance 2%: size = 100 / 0.02 = 5000.
	size := m.CalculatePositionSize(100, 98, buySignal())
	if math.Abs(size-5000) > 1e-9 {
		t.Errorf("expected size 5000, got %f", size)
	}
}

func TestCalculatePositionSizeZeroWhenCannotTrade(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	for i := 0; i < testConfig().MaxPositions; i++ {
		m.RegisterPosition(openPosition(string(rune('a' + i))))
	}

	if m.CanTrade() {
		t.Fatal("expected CanTrade false at position limit")
	}
	if size := m.CalculatePositionSize(100, 98, buySignal()); size != 0 {
		t.Errorf("expected size 0 at position limit, got %f", size)
	}
}

func TestCalculatePositionSizeZeroStopDistance(t *testing.T) {
	m := newTestManager(testConfig(), 10000)
	if size := m.CalculatePositionSize(100, 100, buySignal()); size != 0 {
		t.Errorf("expected size 0 for zero stop distance, got %f", size)
	}
}

func TestCalculatePositionSizePercentage(t *testing.T) {
	cfg := testConfig()
	cfg.PositionSizingMethod = SizingPercentage
	m := newTestManager(cfg, 10000)

	// 2% of balance at entry 100 is 2 units, under the risk cap of 5000.
	size := m.CalculatePositionSize(100, 98, buySignal())
	if math.Abs(size-2) > 1e-9 {
		t.Errorf("expected size 2, got %f", size)
	}
}

func TestCalculatePositionSizeKellyCappedByRisk(t *testing.T) {
	cfg := testConfig()
	cfg.PositionSizingMethod = SizingKelly
	m := newTestManager(cfg, 10000)

	// winRate 0.64, avgWin 0.04, avgLoss 0.02: kelly = (0.0256-0.0072)/0.02
	// = 0.92, halved 0.46, clamped 0.25 => 10000*0.25/100 = 25 units,
	// under the fixed-risk cap of 5000.
	size := m.CalculatePositionSize(100, 98, buySignal())
	if math.Abs(size-25) > 1e-9 {
		t.Errorf("expected kelly size 25, got %f", size)
	}
}

func TestValidateSignalRejectsLowRiskReward(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	signal := &smc.Signal{
		Type:       smc.SignalBuy,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: []float64{102},
	}

	// Reward 2 against risk 5 is a 0.4 ratio, under the configured 2.
	v := m.ValidateSignal(signal)
	if v.Valid {
		t.Fatal("expected rejection for low risk-reward ratio")
	}
	if v.Reason == "" {
		t.Error("rejection must carry a reason")
	}
}

func TestValidateSignalWidensTightStop(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	// Stop 0.2% from entry, tighter than the 0.5% minimum. The raw ratio
	// passes (reward 4 / risk 0.2 = 20).
	signal := &smc.Signal{
		Type:       smc.SignalBuy,
		EntryPrice: 100,
		StopLoss:   99.8,
		TakeProfit: []float64{104},
	}

	v := m.ValidateSignal(signal)
	if !v.Valid {
		t.Fatalf("expected valid signal, got rejection: %s", v.Reason)
	}
	if math.Abs(v.StopLoss-99.5) > 1e-9 {
		t.Errorf("expected stop widened to 99.5, got %f", v.StopLoss)
	}
	// Take profit recomputed from the widened risk 0.5 at ratio 2.
	if math.Abs(v.TakeProfit[0]-101) > 1e-9 {
		t.Errorf("expected first take profit 101, got %f", v.TakeProfit[0])
	}
}

func TestValidateSignalSellWidening(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	signal := &smc.Signal{
		Type:       smc.SignalSell,
		EntryPrice: 100,
		StopLoss:   100.2,
		TakeProfit: []float64{96},
	}

	v := m.ValidateSignal(signal)
	if !v.Valid {
		t.Fatalf("expected valid signal, got rejection: %s", v.Reason)
	}
	if math.Abs(v.StopLoss-100.5) > 1e-9 {
		t.Errorf("expected stop widened to 100.5, got %f", v.StopLoss)
	}
	if math.Abs(v.TakeProfit[0]-99) > 1e-9 {
		t.Errorf("expected first take profit 99, got %f", v.TakeProfit[0])
	}
}

func TestDailyLossHaltsTrading(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	p := openPosition("p1")
	m.RegisterPosition(p)

	// Daily limit is 5% of 10000 = 500.
	m.UpdatePosition("p1", -600, StatusClosed)

	if m.CanTrade() {
		t.Fatal("expected trading halted after daily loss limit")
	}
	stats := m.RiskStats()
	if !stats.MaxDailyLossReached {
		t.Error("expected max daily loss flag set")
	}
	if stats.DailyLoss != 600 {
		t.Errorf("expected daily loss 600, got %f", stats.DailyLoss)
	}
	if stats.OpenPositions != 0 {
		t.Errorf("closed position must leave the book, got %d open", stats.OpenPositions)
	}

	m.ResetDailyLimits()
	if !m.CanTrade() {
		t.Error("expected trading to resume after reset")
	}
}

func TestUpdatePositionAccumulatesPnl(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	p := openPosition("p1")
	m.RegisterPosition(p)

	m.UpdatePosition("p1", 50, StatusPartiallyClosed)
	m.UpdatePosition("p1", 30, StatusPartiallyClosed)

	open := m.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	if open[0].RealizedPnl != 80 {
		t.Errorf("expected accumulated pnl 80, got %f", open[0].RealizedPnl)
	}
	if open[0].Status != StatusPartiallyClosed {
		t.Errorf("expected PARTIALLY_CLOSED, got %s", open[0].Status)
	}
	if m.RiskStats().OpenPositions != 1 {
		t.Error("partially closed position must stay in the book")
	}
}

func TestRegisterPositionKeepsOwnCopy(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	p := openPosition("p1")
	m.RegisterPosition(p)

	// Caller-side mutation must not leak into the book, and book
	// snapshots must not expose the stored struct.
	p.Quantity = 999
	open := m.OpenPositions()
	if open[0].Quantity != 1 {
		t.Errorf("book quantity = %f, want 1", open[0].Quantity)
	}
	open[0].Quantity = 42
	if m.OpenPositions()[0].Quantity != 1 {
		t.Error("snapshot mutation leaked into the book")
	}
}

func TestReduceQuantityShrinksExposure(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	p := openPosition("p1")
	p.Quantity = 10
	m.RegisterPosition(p)

	m.ReduceQuantity("p1", 4)
	if got := m.OpenPositions()[0].Quantity; got != 6 {
		t.Errorf("quantity = %f, want 6", got)
	}
	if stats := m.RiskStats(); stats.RiskExposure != 600 {
		t.Errorf("exposure = %f, want 600", stats.RiskExposure)
	}

	// Over-reduction clamps to zero instead of going negative.
	m.ReduceQuantity("p1", 100)
	if got := m.OpenPositions()[0].Quantity; got != 0 {
		t.Errorf("quantity = %f, want 0", got)
	}
}

func TestAdjustStopLossToBreakEven(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	p := openPosition("p1")
	p.Fees = 0.1

	// Profit of 0.5 on quantity 1 is under the 1.0 threshold (1% of 100).
	if sl := m.AdjustStopLossToBreakEven(p, 100.5); sl != p.StopLoss {
		t.Errorf("expected unchanged stop below threshold, got %f", sl)
	}

	// Profit of 2.0 clears the threshold; stop moves to entry plus fees.
	sl := m.AdjustStopLossToBreakEven(p, 102)
	if math.Abs(sl-100.1) > 1e-9 {
		t.Errorf("expected break-even stop 100.1, got %f", sl)
	}

	short := openPosition("p2")
	short.Side = SideShort
	short.Fees = 0.1
	sl = m.AdjustStopLossToBreakEven(short, 98)
	if math.Abs(sl-99.9) > 1e-9 {
		t.Errorf("expected short break-even stop 99.9, got %f", sl)
	}
}

func TestCalculateVolatilityInsufficientData(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	candles := make([]market.Candle, 14)
	for i := range candles {
		candles[i] = market.Candle{Timestamp: int64(i), Open: 100, High: 101, Low: 99, Close: 100}
	}

	// 14 candles is one short of period+1.
	if v := m.CalculateVolatility(candles, 14); v != 0 {
		t.Errorf("expected 0 volatility under period+1 candles, got %f", v)
	}
}

func TestCalculateVolatilityATR(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	candles := make([]market.Candle, 15)
	for i := range candles {
		candles[i] = market.Candle{Timestamp: int64(i), Open: 100, High: 101, Low: 99, Close: 100}
	}

	// Constant true range of 2 against close 100 gives 2%.
	v := m.CalculateVolatility(candles, 14)
	if math.Abs(v-0.02) > 1e-9 {
		t.Errorf("expected volatility 0.02, got %f", v)
	}
}

func TestAdjustStopLossByVolatilityKeepsWiderStop(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	// Volatility stop at 100 - 1.5*0.02*100 = 97 is wider than the
	// initial 98, so it wins.
	sl := m.AdjustStopLossByVolatility(100, 98, 0.02, SideLong)
	if math.Abs(sl-97) > 1e-9 {
		t.Errorf("expected long stop 97, got %f", sl)
	}

	// An already wider initial stop is kept.
	sl = m.AdjustStopLossByVolatility(100, 96, 0.02, SideLong)
	if math.Abs(sl-96) > 1e-9 {
		t.Errorf("expected long stop kept at 96, got %f", sl)
	}

	sl = m.AdjustStopLossByVolatility(100, 102, 0.02, SideShort)
	if math.Abs(sl-103) > 1e-9 {
		t.Errorf("expected short stop 103, got %f", sl)
	}
	sl = m.AdjustStopLossByVolatility(100, 104, 0.02, SideShort)
	if math.Abs(sl-104) > 1e-9 {
		t.Errorf("expected short stop kept at 104, got %f", sl)
	}
}

func TestShouldTakePartialProfitLevels(t *testing.T) {
	m := newTestManager(testConfig(), 10000)
	levels := []float64{0.02, 0.04, 0.06}

	p := openPosition("p1")
	p.Quantity = 10

	// 3% profit reaches the first level: exit half.
	exit := m.ShouldTakePartialProfit(p, 103, levels)
	if !exit.ShouldExit || exit.LevelIndex != 0 {
		t.Fatalf("expected level 0 exit, got %+v", exit)
	}
	if math.Abs(exit.ExitAmount-5) > 1e-9 {
		t.Errorf("expected exit amount 5 (50%%), got %f", exit.ExitAmount)
	}
	if exit.ExitPrice != 103 {
		t.Errorf("expected exit price 103, got %f", exit.ExitPrice)
	}
}

func TestShouldTakePartialProfitIdempotentPerLevel(t *testing.T) {
	m := newTestManager(testConfig(), 10000)
	levels := []float64{0.02, 0.04, 0.06}

	p := openPosition("p1")
	p.Quantity = 10

	exit := m.ShouldTakePartialProfit(p, 103, levels)
	if !exit.ShouldExit {
		t.Fatal("expected first trigger")
	}
	p.TriggeredTPLevels = append(p.TriggeredTPLevels, exit.LevelIndex)
	p.Quantity -= exit.ExitAmount

	// Same price again: level 0 already fired, level 1 not reached.
	again := m.ShouldTakePartialProfit(p, 103, levels)
	if again.ShouldExit {
		t.Errorf("level must fire at most once, got %+v", again)
	}

	// Higher price fires the next level at 30% of the remaining quantity.
	next := m.ShouldTakePartialProfit(p, 105, levels)
	if !next.ShouldExit || next.LevelIndex != 1 {
		t.Fatalf("expected level 1 exit, got %+v", next)
	}
	if math.Abs(next.ExitAmount-1.5) > 1e-9 {
		t.Errorf("expected exit amount 1.5 (30%% of 5), got %f", next.ExitAmount)
	}
}

func TestShouldTakePartialProfitShortSide(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	p := openPosition("p1")
	p.Side = SideShort
	p.Quantity = 10

	exit := m.ShouldTakePartialProfit(p, 97, []float64{0.02})
	if !exit.ShouldExit || exit.LevelIndex != 0 {
		t.Fatalf("expected short profit exit, got %+v", exit)
	}
}

func TestRiskStatsExposure(t *testing.T) {
	m := newTestManager(testConfig(), 10000)

	p := openPosition("p1")
	p.Quantity = 2
	m.RegisterPosition(p)

	stats := m.RiskStats()
	if stats.RiskExposure != 200 {
		t.Errorf("expected exposure 200, got %f", stats.RiskExposure)
	}
	if stats.DailyTrades != 1 {
		t.Errorf("expected 1 daily trade, got %d", stats.DailyTrades)
	}
	if stats.AvailableRisk != 500 {
		t.Errorf("expected available risk 500, got %f", stats.AvailableRisk)
	}
}
