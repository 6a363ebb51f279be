package hedging

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-engine/internal/exchange"
	"smc-trading-engine/internal/risk"
)

// Notifier receives hedge execution summaries. The notification manager
// satisfies it.
type Notifier interface {
	SendText(message string) error
}

// Config tunes delta hedging.
type Config struct {
	Enabled              bool          `json:"enabled"`
	HedgeExchange        string        `json:"hedge_exchange"`
	HedgeSymbol          string        `json:"hedge_symbol"`
	TargetDelta          float64       `json:"target_delta"`
	MaxDeltaExposure     float64       `json:"max_delta_exposure"`
	CheckInterval        time.Duration `json:"check_interval"`
	MinRebalanceNotional float64       `json:"min_rebalance_notional"`
}

// DefaultConfig hedges with BTC and a $15 minimum rebalance clip.
func DefaultConfig() Config {
	return Config{
		HedgeExchange:        "binance",
		HedgeSymbol:          "BTCUSDT",
		TargetDelta:          0,
		MaxDeltaExposure:     1000,
		CheckInterval:        time.Minute,
		MinRebalanceNotional: 15,
	}
}

// Manager keeps net portfolio delta near a target by trading a hedge
// symbol. The hedge position it accumulates is tracked locally, with
// negative quantity meaning short.
type Manager struct {
	mu sync.Mutex

	config        Config
	exchange      exchange.Service
	notifier      Notifier
	hedgePosition float64
	dynamicLimit  float64
	dynamicSet    bool
	lastCheck     time.Time

	log zerolog.Logger
}

// NewManager creates a hedging manager. The notifier may be nil.
func NewManager(config Config, svc exchange.Service, notifier Notifier, logger zerolog.Logger) *Manager {
	return &Manager{
		config:   config,
		exchange: svc,
		notifier: notifier,
		log:      logger.With().Str("component", "hedging").Logger(),
	}
}

// UpdateMarketVolatility tightens the delta limit when realtime volatility
// rises: above 1% only 20% of the configured exposure is allowed, above
// 0.5% half of it, otherwise the static limit applies.
func (m *Manager) UpdateMarketVolatility(volatility float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.config.MaxDeltaExposure
	switch {
	case volatility > 0.01:
		m.dynamicLimit = base * 0.2
		m.dynamicSet = true
		m.log.Warn().Float64("volatility", volatility).Float64("limit", m.dynamicLimit).Msg("tightening delta limit")
	case volatility > 0.005:
		m.dynamicLimit = base * 0.5
		m.dynamicSet = true
		m.log.Warn().Float64("volatility", volatility).Float64("limit", m.dynamicLimit).Msg("reducing delta limit")
	default:
		m.dynamicSet = false
	}
}

// EvaluatePortfolio measures the USD delta of the open book plus the
// current hedge and rebalances when it drifts past the exposure limit.
// Calls inside the check interval are no-ops.
func (m *Manager) EvaluatePortfolio(ctx context.Context, positions []risk.Position) error {
	m.mu.Lock()
	if !m.config.Enabled {
		m.mu.Unlock()
		return nil
	}
	if m.config.CheckInterval > 0 && time.Since(m.lastCheck) < m.config.CheckInterval {
		m.mu.Unlock()
		return nil
	}
	m.lastCheck = time.Now()
	m.mu.Unlock()

	var portfolioDelta float64
	for _, pos := range positions {
		ticker, err := m.exchange.GetTicker(ctx, m.config.HedgeExchange, pos.Symbol)
		if err != nil {
			return fmt.Errorf("hedging: ticker %s: %w", pos.Symbol, err)
		}
		value := ticker.LastPrice * pos.Quantity
		if pos.Side == risk.SideShort {
			value = -value
		}
		portfolioDelta += value
	}

	hedgeTicker, err := m.exchange.GetTicker(ctx, m.config.HedgeExchange, m.config.HedgeSymbol)
	if err != nil {
		return fmt.Errorf("hedging: hedge ticker: %w", err)
	}
	hedgePrice := hedgeTicker.LastPrice

	m.mu.Lock()
	hedgeDelta := m.hedgePosition * hedgePrice
	limit := m.config.MaxDeltaExposure
	if m.dynamicSet {
		limit = m.dynamicLimit
	}
	m.mu.Unlock()

	totalDelta := portfolioDelta + hedgeDelta
	deviation := totalDelta - m.config.TargetDelta

	m.log.Debug().
		Float64("portfolio_delta", portfolioDelta).
		Float64("hedge_delta", hedgeDelta).
		Float64("total_delta", totalDelta).
		Msg("portfolio delta evaluated")

	if math.Abs(deviation) <= limit {
		return nil
	}

	return m.rebalance(ctx, deviation, hedgePrice, totalDelta)
}

func (m *Manager) rebalance(ctx context.Context, deviation, hedgePrice, totalDelta float64) error {
	quantityChange := -deviation / hedgePrice
	side := exchange.SideBuy
	if quantityChange < 0 {
		side = exchange.SideSell
	}
	quantity := math.Abs(quantityChange)

	if quantity*hedgePrice < m.config.MinRebalanceNotional {
		m.log.Info().Float64("notional", quantity*hedgePrice).Msg("rebalance below minimum clip, skipping")
		return nil
	}

	m.log.Info().
		Str("side", string(side)).
		Float64("quantity", quantity).
		Str("symbol", m.config.HedgeSymbol).
		Msg("rebalancing hedge")

	order, err := m.exchange.CreateMarketOrder(ctx, m.config.HedgeExchange, m.config.HedgeSymbol, side, quantity)
	if err != nil {
		return fmt.Errorf("hedging: rebalance order: %w", err)
	}

	filled := order.Quantity
	if filled == 0 {
		filled = quantity
	}

	m.mu.Lock()
	if side == exchange.SideBuy {
		m.hedgePosition += filled
	} else {
		m.hedgePosition -= filled
	}
	m.mu.Unlock()

	if m.notifier != nil {
		signedFill := filled * hedgePrice
		if side == exchange.SideSell {
			signedFill = -signedFill
		}
		msg := fmt.Sprintf("HEDGE EXECUTED: %s %.4f %s (deviation $%.2f, new delta $%.2f)",
			side, filled, m.config.HedgeSymbol, deviation, totalDelta+signedFill)
		if err := m.notifier.SendText(msg); err != nil {
			m.log.Warn().Err(err).Msg("hedge notification failed")
		}
	}

	return nil
}

// HedgePosition returns the locally tracked hedge quantity.
func (m *Manager) HedgePosition() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hedgePosition
}
