package smc

import (
	"math"
	"time"

	"smc-trading-engine/internal/market"
)

// GenerateSignals derives trade signals from an analysis at the current
// price. The candle series is optional and only used for volume
// confirmation; passing nil skips that check.
func (a *Analyzer) GenerateSignals(analysis *Analysis, currentPrice float64, timeframe string, candles []market.Candle) []Signal {
	var signals []Signal
	if analysis == nil || currentPrice <= 0 {
		return signals
	}

	volumeConfirmedBuy := true
	volumeConfirmedSell := true
	if a.params.UseVolumeConfirmation && len(candles) > 20 {
		volumeConfirmedBuy = checkVolumeConfirmation(candles, SignalBuy)
		volumeConfirmedSell = checkVolumeConfirmation(candles, SignalSell)
	}

	if buy := a.checkBuySignal(analysis, currentPrice, timeframe); buy != nil && volumeConfirmedBuy {
		if a.params.UseVolumeConfirmation {
			buy.Reason += " + Vol Confirmed"
		}
		signals = append(signals, *buy)
	}

	if sell := a.checkSellSignal(analysis, currentPrice, timeframe); sell != nil && volumeConfirmedSell {
		if a.params.UseVolumeConfirmation {
			sell.Reason += " + Vol Confirmed"
		}
		signals = append(signals, *sell)
	}

	return signals
}

// checkBuySignal requires a low liquidity zone within 1% of price and an
// unmitigated bullish order block within 0.5%. Missing either leg means no
// signal.
func (a *Analyzer) checkBuySignal(analysis *Analysis, currentPrice float64, timeframe string) *Signal {
	zone := findZone(analysis.LiquidityZones, ZoneLow, currentPrice, a.params.MinLiquidityStrength)
	if zone == nil {
		return nil
	}

	block := findBlock(analysis.OrderBlocks, BlockBullish, currentPrice, a.params.MinOrderBlockStrength)
	if block == nil {
		return nil
	}

	return &Signal{
		Type:       SignalBuy,
		EntryPrice: currentPrice,
		StopLoss:   zone.Price * 0.99,
		TakeProfit: []float64{currentPrice * 1.02, currentPrice * 1.04},
		Confidence: math.Min(1, (zone.Strength+block.Strength)/2),
		Reason:     "Liquidity Zone + Bullish Order Block",
		Timeframe:  timeframe,
		Timestamp:  time.Now().UnixMilli(),
	}
}

func (a *Analyzer) checkSellSignal(analysis *Analysis, currentPrice float64, timeframe string) *Signal {
	zone := findZone(analysis.LiquidityZones, ZoneHigh, currentPrice, a.params.MinLiquidityStrength)
	if zone == nil {
		return nil
	}

	block := findBlock(analysis.OrderBlocks, BlockBearish, currentPrice, a.params.MinOrderBlockStrength)
	if block == nil {
		return nil
	}

	return &Signal{
		Type:       SignalSell,
		EntryPrice: currentPrice,
		StopLoss:   zone.Price * 1.01,
		TakeProfit: []float64{currentPrice * 0.98, currentPrice * 0.96},
		Confidence: math.Min(1, (zone.Strength+block.Strength)/2),
		Reason:     "Liquidity Zone + Bearish Order Block",
		Timeframe:  timeframe,
		Timestamp:  time.Now().UnixMilli(),
	}
}

func findZone(zones []LiquidityZone, typ ZoneType, price, minStrength float64) *LiquidityZone {
	for i := range zones {
		z := &zones[i]
		if z.Type == typ &&
			math.Abs(z.Price-price)/price < 0.01 &&
			z.Strength >= minStrength {
			return z
		}
	}
	return nil
}

func findBlock(blocks []OrderBlock, typ BlockType, price, minStrength float64) *OrderBlock {
	for i := range blocks {
		b := &blocks[i]
		if b.Type == typ &&
			!b.Mitigated &&
			math.Abs(b.Price-price)/price < 0.005 &&
			b.Strength >= minStrength {
			return b
		}
	}
	return nil
}

// checkVolumeConfirmation looks for an institutional footprint: relative
// volume of the latest candle at least 1.5x the 20-candle average, with the
// candle leaning in the signal's direction.
func checkVolumeConfirmation(candles []market.Candle, side SignalType) bool {
	const lookback = 20
	recent := candles[len(candles)-lookback:]
	current := recent[len(recent)-1]

	var total float64
	for _, c := range recent[:len(recent)-1] {
		total += c.Volume
	}
	avgVolume := total / float64(lookback-1)
	if avgVolume == 0 || current.Volume/avgVolume < 1.5 {
		return false
	}

	mid := current.Low + current.Range()*0.5
	if side == SignalBuy {
		return current.Close >= current.Open || current.Close > mid
	}
	return current.Close <= current.Open || current.Close < mid
}
