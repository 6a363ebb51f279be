package monitor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-engine/internal/events"
)

// Config tunes the strategy monitor.
type Config struct {
	DriftThresholdSigma  float64
	MaxStoredDataPoints  int
	CheckInterval        time.Duration
	RealtimeVolThreshold float64
}

// DefaultConfig returns the stock monitor settings.
func DefaultConfig() Config {
	return Config{
		DriftThresholdSigma:  2.0,
		MaxStoredDataPoints:  1000,
		CheckInterval:        time.Hour,
		RealtimeVolThreshold: 0.005,
	}
}

// DriftResult compares recent strategy returns against a baseline
// distribution with a z-score on the mean.
type DriftResult struct {
	Detected     bool    `json:"drift_detected"`
	ZScore       float64 `json:"z_score"`
	CurrentMean  float64 `json:"current_mean"`
	BaselineMean float64 `json:"baseline_mean"`
	Reason       string  `json:"reason"`
}

// RegimeResult classifies the market regime from recent closes.
type RegimeResult struct {
	Regime          string  `json:"regime"`
	TrendStrength   float64 `json:"trend_strength"`
	VolatilityScore float64 `json:"volatility_score"`
}

// IsExtreme reports whether the regime carries extreme volatility.
func (r RegimeResult) IsExtreme() bool {
	return r.VolatilityScore > 0.8
}

// EventSink receives the monitor's observations. The events bus satisfies
// this; tests can plug their own.
type EventSink interface {
	PublishDrift(events.DriftPayload)
	PublishRegime(events.RegimePayload)
	PublishVolatility(events.VolatilityPayload)
}

// Monitor tracks prices and per-trade returns for one strategy and flags
// drift, regime shifts and realtime volatility spikes.
type Monitor struct {
	mu sync.Mutex

	strategy string
	symbol   string
	config   Config

	priceHistory    []float64
	returnsHistory  []float64
	baselineReturns []float64

	lastDriftCheck time.Time
	lastRegime     string

	sink EventSink
	log  zerolog.Logger
}

// New creates a monitor for one strategy/symbol pair. The baseline return
// distribution starts as a synthetic 0.1% mean with 2% spread until
// ReplaceBaseline loads real backtest data.
func New(strategy, symbol string, config Config, sink EventSink, logger zerolog.Logger) *Monitor {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	baseline := make([]float64, 100)
	for i := range baseline {
		baseline[i] = (rng.Float64()*0.04 - 0.02) + 0.001
	}

	return &Monitor{
		strategy:        strategy,
		symbol:          symbol,
		config:          config,
		baselineReturns: baseline,
		sink:            sink,
		log:             logger.With().Str("component", "monitor").Str("strategy", strategy).Logger(),
	}
}

// ReplaceBaseline swaps in a baseline return distribution, normally from
// backtest results.
func (m *Monitor) ReplaceBaseline(returns []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselineReturns = append([]float64(nil), returns...)
}

// UpdatePrice appends a price observation and runs the fast checks. The
// slow drift/regime checks run at most once per CheckInterval.
func (m *Monitor) UpdatePrice(price float64) {
	m.mu.Lock()
	m.priceHistory = append(m.priceHistory, price)
	if len(m.priceHistory) > m.config.MaxStoredDataPoints {
		m.priceHistory = m.priceHistory[1:]
	}
	m.mu.Unlock()

	m.checkRealtimeVolatility()

	m.mu.Lock()
	due := time.Since(m.lastDriftCheck) >= m.config.CheckInterval
	if due {
		m.lastDriftCheck = time.Now()
	}
	m.mu.Unlock()

	if due {
		m.runSlowChecks()
	}
}

// UpdateReturn appends a per-trade return observation.
func (m *Monitor) UpdateReturn(tradeReturn float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnsHistory = append(m.returnsHistory, tradeReturn)
	if len(m.returnsHistory) > m.config.MaxStoredDataPoints {
		m.returnsHistory = m.returnsHistory[1:]
	}
}

// RealtimeVolatility returns the coefficient of variation over the last 20
// prices, 0 with fewer observations.
func (m *Monitor) RealtimeVolatility() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realtimeVolatilityLocked()
}

func (m *Monitor) realtimeVolatilityLocked() float64 {
	if len(m.priceHistory) < 20 {
		return 0
	}

	window := m.priceHistory[len(m.priceHistory)-20:]
	mean := meanOf(window)
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, p := range window {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(window))

	return math.Sqrt(variance) / mean
}

func (m *Monitor) checkRealtimeVolatility() {
	m.mu.Lock()
	volatility := m.realtimeVolatilityLocked()
	threshold := m.config.RealtimeVolThreshold
	m.mu.Unlock()

	if volatility > threshold {
		m.log.Warn().Float64("volatility", volatility).Msg("high frequency volatility spike")
		m.sink.PublishVolatility(events.VolatilityPayload{
			Symbol:     m.symbol,
			Volatility: volatility,
			Threshold:  threshold,
		})
	}
}

func (m *Monitor) runSlowChecks() {
	if drift := m.CheckDrift(); drift.Detected {
		m.log.Warn().
			Float64("z_score", drift.ZScore).
			Float64("current_mean", drift.CurrentMean).
			Float64("baseline_mean", drift.BaselineMean).
			Msg("strategy drift detected")
		m.sink.PublishDrift(events.DriftPayload{
			Strategy: m.strategy,
			Symbol:   m.symbol,
			ZScore:   drift.ZScore,
			Severity: "HIGH",
		})
	}

	regime := m.CheckRegime()
	m.mu.Lock()
	old := m.lastRegime
	changed := regime.Regime != "" && regime.Regime != old && regime.Regime != "UNKNOWN"
	if changed {
		m.lastRegime = regime.Regime
	}
	m.mu.Unlock()

	if changed {
		m.log.Info().
			Str("regime", regime.Regime).
			Float64("volatility_score", regime.VolatilityScore).
			Float64("trend_strength", regime.TrendStrength).
			Msg("market regime changed")
		m.sink.PublishRegime(events.RegimePayload{Symbol: m.symbol, Old: old, New: regime.Regime})
	}
}

// CheckDrift compares the mean of the last 50 returns to the baseline. The
// first 50 stored returns become the baseline once history exceeds 100.
func (m *Monitor) CheckDrift() DriftResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.returnsHistory) < 10 {
		return DriftResult{Reason: "insufficient data"}
	}

	baseline := m.baselineReturns
	if len(m.returnsHistory) > 100 {
		baseline = m.returnsHistory[:50]
	}
	if len(baseline) < 10 {
		return DriftResult{Reason: "insufficient baseline"}
	}

	recent := m.returnsHistory
	if len(recent) > 50 {
		recent = recent[len(recent)-50:]
	}

	baseMean := meanOf(baseline)
	baseStd := stdOf(baseline, baseMean)
	recentMean := meanOf(recent)

	var zScore float64
	if baseStd != 0 {
		zScore = (recentMean - baseMean) / (baseStd / math.Sqrt(float64(len(recent))))
	}

	detected := math.Abs(zScore) > m.config.DriftThresholdSigma
	reason := "stable"
	if detected {
		reason = "mean shift beyond threshold sigma"
	}

	return DriftResult{
		Detected:     detected,
		ZScore:       zScore,
		CurrentMean:  recentMean,
		BaselineMean: baseMean,
		Reason:       reason,
	}
}

// CheckRegime classifies trend and volatility from the last 50 prices.
func (m *Monitor) CheckRegime() RegimeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.priceHistory) < 20 {
		return RegimeResult{Regime: "UNKNOWN"}
	}

	closes := m.priceHistory
	if len(closes) > 50 {
		closes = closes[len(closes)-50:]
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	retMean := meanOf(returns)
	volatility := stdOf(returns, retMean) * math.Sqrt(365)

	volTag := "NORMAL"
	switch {
	case volatility > 0.8:
		volTag = "EXTREME"
	case volatility > 0.5:
		volTag = "HIGH"
	case volatility < 0.2:
		volTag = "LOW"
	}

	slope := trendSlope(closes)
	trendTag := "RANGING"
	if slope > 0.001 {
		trendTag = "BULLISH"
	} else if slope < -0.001 {
		trendTag = "BEARISH"
	}

	return RegimeResult{
		Regime:          trendTag + "_" + volTag,
		TrendStrength:   slope,
		VolatilityScore: volatility,
	}
}

// trendSlope fits a least-squares line through prices normalized to the
// percentage change from the first close.
func trendSlope(closes []float64) float64 {
	n := float64(len(closes))
	first := closes[0]
	if first == 0 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, c := range closes {
		x := float64(i)
		y := (c - first) / first
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
