package smc

import (
	"math"
	"sort"
	"time"

	"smc-trading-engine/internal/market"
)

const swingWindow = 5 // candles on each side of a swing point

// Analyzer detects Smart Money Concepts patterns in candlestick data.
// It is stateless per call: Analyze never mutates the input series and
// never fails on well-typed input, returning empty collections when the
// series is too short.
type Analyzer struct {
	params Params
}

// NewAnalyzer creates an analyzer with the given thresholds. Zero-valued
// thresholds fall back to defaults.
func NewAnalyzer(params Params) *Analyzer {
	defaults := DefaultParams()
	if params.MinLiquidityStrength <= 0 {
		params.MinLiquidityStrength = defaults.MinLiquidityStrength
	}
	if params.MinOrderBlockStrength <= 0 {
		params.MinOrderBlockStrength = defaults.MinOrderBlockStrength
	}
	if params.MinFvgSize <= 0 {
		params.MinFvgSize = defaults.MinFvgSize
	}
	return &Analyzer{params: params}
}

// Params returns the analyzer's configured thresholds.
func (a *Analyzer) Params() Params {
	return a.params
}

// Analyze runs the full SMC pass over a candle series.
func (a *Analyzer) Analyze(candles []market.Candle) *Analysis {
	return &Analysis{
		LiquidityZones:    a.DetectLiquidityZones(candles),
		OrderBlocks:       a.DetectOrderBlocks(candles),
		FairValueGaps:     a.DetectFairValueGaps(candles),
		MarketStructures:  a.DetectMarketStructures(candles),
		BuySideLiquidity:  detectBuySideLiquidity(candles),
		SellSideLiquidity: detectSellSideLiquidity(candles),
		WashTrading:       detectWashTrading(candles),
		PremiumDiscount:   detectPremiumDiscountZone(candles, 50),
		SessionLiquidity:  detectSessionLiquidity(candles),
	}
}

// swingPoint is an internal marker for a swing high or low.
type swingPoint struct {
	index int
	price float64
	typ   ZoneType
}

// findSwingPoints locates candles whose high (low) strictly exceeds the
// highs (lows) of swingWindow candles on each side.
func findSwingPoints(candles []market.Candle) []swingPoint {
	var points []swingPoint

	for i := swingWindow; i < len(candles)-swingWindow; i++ {
		if isSwingHigh(candles, i) {
			points = append(points, swingPoint{index: i, price: candles[i].High, typ: ZoneHigh})
		} else if isSwingLow(candles, i) {
			points = append(points, swingPoint{index: i, price: candles[i].Low, typ: ZoneLow})
		}
	}

	return points
}

func isSwingHigh(candles []market.Candle, index int) bool {
	current := candles[index]
	for i := 1; i <= swingWindow; i++ {
		if current.High <= candles[index-i].High || current.High <= candles[index+i].High {
			return false
		}
	}
	return true
}

func isSwingLow(candles []market.Candle, index int) bool {
	current := candles[index]
	for i := 1; i <= swingWindow; i++ {
		if current.Low >= candles[index-i].Low || current.Low >= candles[index+i].Low {
			return false
		}
	}
	return true
}

// DetectLiquidityZones finds swing-based liquidity zones whose strength
// clears the configured minimum.
func (a *Analyzer) DetectLiquidityZones(candles []market.Candle) []LiquidityZone {
	var zones []LiquidityZone

	for _, point := range findSwingPoints(candles) {
		strength := liquidityStrength(candles, point.index, point.typ)
		if strength >= a.params.MinLiquidityStrength {
			zones = append(zones, LiquidityZone{
				Type:      point.typ,
				Price:     point.price,
				Strength:  strength,
				Timestamp: candles[point.index].Timestamp,
			})
		}
	}

	return zones
}

// liquidityStrength scores a zone over the 10 candles preceding the swing.
// A touch is a candle reaching within 0.1% of the swing price; a rejection
// is a touch whose candle closed against the swing direction. Rejections
// count double.
func liquidityStrength(candles []market.Candle, index int, typ ZoneType) float64 {
	const lookback = 10
	current := candles[index]
	touches, rejections := 0, 0

	start := index - lookback
	if start < 0 {
		start = 0
	}

	for i := start; i < index; i++ {
		c := candles[i]
		if typ == ZoneHigh {
			if c.High >= current.High*0.999 {
				touches++
				if c.Close < c.Open {
					rejections++
				}
			}
		} else {
			if c.Low <= current.Low*1.001 {
				touches++
				if c.Close > c.Open {
					rejections++
				}
			}
		}
	}

	return math.Min(1, float64(touches+rejections*2)/float64(lookback))
}

// DetectOrderBlocks scans candle triplets for aggressive rejection candles.
func (a *Analyzer) DetectOrderBlocks(candles []market.Candle) []OrderBlock {
	var blocks []OrderBlock

	for i := 2; i < len(candles); i++ {
		prev2 := candles[i-2]
		prev1 := candles[i-1]
		current := candles[i]

		if isBullishOrderBlock(prev1, current) {
			strength := orderBlockStrength(prev1, current)
			if strength >= a.params.MinOrderBlockStrength {
				blocks = append(blocks, OrderBlock{
					Type:      BlockBullish,
					Price:     prev1.Low,
					StartTime: prev2.Timestamp,
					EndTime:   prev1.Timestamp,
					Strength:  strength,
				})
			}
		}

		if isBearishOrderBlock(prev1, current) {
			strength := orderBlockStrength(prev1, current)
			if strength >= a.params.MinOrderBlockStrength {
				blocks = append(blocks, OrderBlock{
					Type:      BlockBearish,
					Price:     prev1.High,
					StartTime: prev2.Timestamp,
					EndTime:   prev1.Timestamp,
					Strength:  strength,
				})
			}
		}
	}

	return blocks
}

// isBullishOrderBlock: an aggressive sell candle (bearish body >= 60% of
// range) followed by a candle closing above its open.
func isBullishOrderBlock(block, current market.Candle) bool {
	bearish := block.Open > block.Close && (block.Open-block.Close) > block.Range()*0.6
	rejection := current.Close > block.Open
	return bearish && rejection
}

func isBearishOrderBlock(block, current market.Candle) bool {
	bullish := block.Close > block.Open && (block.Close-block.Open) > block.Range()*0.6
	rejection := current.Close < block.Open
	return bullish && rejection
}

// orderBlockStrength weighs body dominance against volume expansion.
func orderBlockStrength(block, current market.Candle) float64 {
	totalRange := block.Range()
	if totalRange == 0 || block.Volume == 0 {
		return 0
	}
	bodyRatio := block.Body() / totalRange
	strength := bodyRatio*0.7 + (current.Volume/block.Volume)*0.3
	return math.Min(1, strength)
}

// DetectFairValueGaps finds three-candle imbalances at least MinFvgSize wide.
func (a *Analyzer) DetectFairValueGaps(candles []market.Candle) []FairValueGap {
	var gaps []FairValueGap

	for i := 2; i < len(candles); i++ {
		prev2 := candles[i-2]
		prev1 := candles[i-1]

		// Bullish gap: current low above the high two candles back.
		if prev1.Low > prev2.High {
			size := (prev1.Low - prev2.High) / prev2.High
			if size >= a.params.MinFvgSize {
				gaps = append(gaps, FairValueGap{
					Top:       prev1.Low,
					Bottom:    prev2.High,
					Midpoint:  (prev1.Low + prev2.High) / 2,
					Timestamp: prev1.Timestamp,
				})
			}
		}

		// Bearish gap: current high below the low two candles back.
		if prev1.High < prev2.Low {
			size := (prev2.Low - prev1.High) / prev1.High
			if size >= a.params.MinFvgSize {
				gaps = append(gaps, FairValueGap{
					Top:       prev2.Low,
					Bottom:    prev1.High,
					Midpoint:  (prev2.Low + prev1.High) / 2,
					Timestamp: prev1.Timestamp,
				})
			}
		}
	}

	return gaps
}

// DetectMarketStructures derives HH/HL/LH/LL from consecutive swing points
// and appends BOS/CHOCH breaks.
func (a *Analyzer) DetectMarketStructures(candles []market.Candle) []MarketStructure {
	var structures []MarketStructure
	points := findSwingPoints(candles)

	for i := 1; i < len(points); i++ {
		current := points[i]
		previous := points[i-1]
		ts := candles[current.index].Timestamp

		if current.typ == ZoneHigh {
			if current.price > previous.price {
				structures = append(structures, MarketStructure{Type: StructureHH, Price: current.price, Timestamp: ts, Direction: DirectionBullish})
			} else {
				structures = append(structures, MarketStructure{Type: StructureLH, Price: current.price, Timestamp: ts, Direction: DirectionBearish})
			}
		} else {
			if current.price < previous.price {
				structures = append(structures, MarketStructure{Type: StructureLL, Price: current.price, Timestamp: ts, Direction: DirectionBearish})
			} else {
				structures = append(structures, MarketStructure{Type: StructureHL, Price: current.price, Timestamp: ts, Direction: DirectionBullish})
			}
		}
	}

	return append(structures, detectBOSAndCHOCH(structures)...)
}

// detectBOSAndCHOCH walks the structure sequence tracking the last swing
// extremes and the previous direction. A direction flip emits CHOCH; a new
// HH beyond lastHigh (or LL beyond lastLow) emits BOS, preceded by an extra
// CHOCH when the tracked direction was opposite. The same turning point can
// therefore emit CHOCH twice; downstream consumers tolerate this and tests
// pin it.
func detectBOSAndCHOCH(structures []MarketStructure) []MarketStructure {
	var breaks []MarketStructure
	lastHigh := 0.0
	lastLow := math.Inf(1)
	var prevDirection Direction

	for _, s := range structures {
		if prevDirection != "" && s.Direction != prevDirection {
			breaks = append(breaks, MarketStructure{Type: StructureCHOCH, Price: s.Price, Timestamp: s.Timestamp, Direction: s.Direction})
		}
		switch s.Type {
		case StructureHH:
			if s.Price > lastHigh {
				if prevDirection == DirectionBearish {
					breaks = append(breaks, MarketStructure{Type: StructureCHOCH, Price: s.Price, Timestamp: s.Timestamp, Direction: DirectionBullish})
				}
				breaks = append(breaks, MarketStructure{Type: StructureBOS, Price: s.Price, Timestamp: s.Timestamp, Direction: DirectionBullish})
			}
			lastHigh = s.Price
			prevDirection = DirectionBullish
		case StructureLL:
			if s.Price < lastLow {
				if prevDirection == DirectionBullish {
					breaks = append(breaks, MarketStructure{Type: StructureCHOCH, Price: s.Price, Timestamp: s.Timestamp, Direction: DirectionBearish})
				}
				breaks = append(breaks, MarketStructure{Type: StructureBOS, Price: s.Price, Timestamp: s.Timestamp, Direction: DirectionBearish})
			}
			lastLow = s.Price
			prevDirection = DirectionBearish
		default:
			prevDirection = s.Direction
		}
	}

	return breaks
}

// detectBuySideLiquidity returns the highs of the last 20 candles, highest
// first. These are the levels where buy stops cluster.
func detectBuySideLiquidity(candles []market.Candle) []float64 {
	const window = 20
	start := len(candles) - window
	if start < 0 {
		start = 0
	}

	highs := make([]float64, 0, window)
	for _, c := range candles[start:] {
		highs = append(highs, c.High)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(highs)))
	return highs
}

func detectSellSideLiquidity(candles []market.Candle) []float64 {
	const window = 20
	start := len(candles) - window
	if start < 0 {
		start = 0
	}

	lows := make([]float64, 0, window)
	for _, c := range candles[start:] {
		lows = append(lows, c.Low)
	}
	sort.Float64s(lows)
	return lows
}

// detectWashTrading screens the last 10 candles for volume anomalies:
// spikes above 5x the series average and high-volume dojis.
func detectWashTrading(candles []market.Candle) []WashTradingActivity {
	if len(candles) < 20 {
		return nil
	}

	var total float64
	for _, c := range candles {
		total += c.Volume
	}
	avgVolume := total / float64(len(candles))
	if avgVolume == 0 {
		return nil
	}

	var activities []WashTradingActivity
	for _, c := range candles[len(candles)-10:] {
		if c.Volume > avgVolume*5 {
			activities = append(activities, WashTradingActivity{
				Type:      "volume_spike",
				Timestamp: c.Timestamp,
				Details:   "volume above 5x series average",
				Severity:  "high",
			})
		}
		if c.Body() < c.Range()*0.1 && c.Volume > avgVolume*2 {
			activities = append(activities, WashTradingActivity{
				Type:      "high_vol_doji",
				Timestamp: c.Timestamp,
				Details:   "extreme indecision on elevated volume",
				Severity:  "medium",
			})
		}
	}

	return activities
}

// detectPremiumDiscountZone computes the equilibrium of the last lookback
// candles and places the current close above or below it.
func detectPremiumDiscountZone(candles []market.Candle, lookback int) *PremiumDiscountZone {
	if len(candles) == 0 {
		return nil
	}

	start := len(candles) - lookback
	if start < 0 {
		start = 0
	}

	highest := math.Inf(-1)
	lowest := math.Inf(1)
	for _, c := range candles[start:] {
		if c.High > highest {
			highest = c.High
		}
		if c.Low < lowest {
			lowest = c.Low
		}
	}

	equilibrium := (highest + lowest) / 2
	status := "DISCOUNT"
	if candles[len(candles)-1].Close > equilibrium {
		status = "PREMIUM"
	}

	return &PremiumDiscountZone{
		High:        highest,
		Low:         lowest,
		Equilibrium: equilibrium,
		Status:      status,
	}
}

// detectSessionLiquidity extracts Asia/London/NY session highs and lows
// from the last 24 hours of candles.
func detectSessionLiquidity(candles []market.Candle) *SessionLiquidity {
	if len(candles) == 0 {
		return nil
	}

	lastTimestamp := candles[len(candles)-1].Timestamp
	dayAgo := lastTimestamp - 24*int64(time.Hour/time.Millisecond)

	type bounds struct {
		high  float64
		low   float64
		found bool
	}
	asia := bounds{high: math.Inf(-1), low: math.Inf(1)}
	london := bounds{high: math.Inf(-1), low: math.Inf(1)}
	newYork := bounds{high: math.Inf(-1), low: math.Inf(1)}

	update := func(b *bounds, c market.Candle) {
		b.found = true
		if c.High > b.high {
			b.high = c.High
		}
		if c.Low < b.low {
			b.low = c.Low
		}
	}

	for _, c := range candles {
		if c.Timestamp <= dayAgo {
			continue
		}
		hour := c.Time().UTC().Hour()
		if hour >= 0 && hour < 8 {
			update(&asia, c)
		}
		if hour >= 7 && hour < 15 {
			update(&london, c)
		}
		if hour >= 12 && hour < 20 {
			update(&newYork, c)
		}
	}

	result := &SessionLiquidity{}
	any := false
	if asia.found {
		result.Asia = &SessionRange{High: asia.high, Low: asia.low, Label: "Asia"}
		any = true
	}
	if london.found {
		result.London = &SessionRange{High: london.high, Low: london.low, Label: "London"}
		any = true
	}
	if newYork.found {
		result.NewYork = &SessionRange{High: newYork.high, Low: newYork.low, Label: "NY"}
		any = true
	}
	if !any {
		return nil
	}
	return result
}
