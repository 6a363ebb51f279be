package risk

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"smc-trading-engine/internal/market"
	"smc-trading-engine/internal/smc"
)

// Position sizing methods.
const (
	SizingFixed      = "fixed"
	SizingPercentage = "percentage"
	SizingKelly      = "kelly"
)

// Config holds risk management configuration.
type Config struct {
	MaxRiskPerTrade      float64 `json:"max_risk_per_trade"` // percent of balance risked per trade
	MaxDailyLoss         float64 `json:"max_daily_loss"`     // percent of balance before trading halts
	MaxPositions         int     `json:"max_positions"`
	RiskRewardRatio      float64 `json:"risk_reward_ratio"`
	PositionSizingMethod string  `json:"position_sizing_method"`
}

// Validation is the outcome of a pre-trade signal check. A rejection is a
// normal result, not an error.
type Validation struct {
	Valid      bool
	Reason     string
	StopLoss   float64
	TakeProfit []float64
}

// PartialExit describes a partial-profit action. LevelIndex is -1 when no
// level fired.
type PartialExit struct {
	ShouldExit bool
	ExitAmount float64
	ExitPrice  float64
	LevelIndex int
}

// Stats is a snapshot of the manager's risk counters.
type Stats struct {
	DailyLoss           float64 `json:"daily_loss"`
	DailyTrades         int     `json:"daily_trades"`
	MaxDailyLossReached bool    `json:"max_daily_loss_reached"`
	OpenPositions       int     `json:"open_positions"`
	MaxPositions        int     `json:"max_positions"`
	AccountBalance      float64 `json:"account_balance"`
	RiskExposure        float64 `json:"risk_exposure"`
	AvailableRisk       float64 `json:"available_risk"`
}

// Manager sizes positions and enforces daily and portfolio limits. All
// methods are safe for concurrent use; every computation is total and
// returns a neutral value on insufficient data.
type Manager struct {
	mu sync.RWMutex

	config              Config
	accountBalance      float64
	openPositions       []*Position
	dailyLoss           float64
	dailyTrades         int
	maxDailyLossReached bool

	log zerolog.Logger
}

// NewManager creates a risk manager with the given starting balance.
func NewManager(config Config, initialBalance float64, logger zerolog.Logger) *Manager {
	return &Manager{
		config:         config,
		accountBalance: initialBalance,
		log:            logger.With().Str("component", "risk").Logger(),
	}
}

// Config returns the current risk configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig replaces the risk configuration.
func (m *Manager) SetConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// AccountBalance returns the tracked balance.
func (m *Manager) AccountBalance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountBalance
}

// UpdateAccountBalance replaces the tracked balance.
func (m *Manager) UpdateAccountBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountBalance = balance
}

// CanTrade reports whether a new position may be opened.
func (m *Manager) CanTrade() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canTradeLocked()
}

func (m *Manager) canTradeLocked() bool {
	if m.maxDailyLossReached {
		return false
	}
	if len(m.openPositions) >= m.config.MaxPositions {
		return false
	}
	return true
}

// CalculatePositionSize returns the quantity to trade for the given entry
// and stop. Returns 0 when trading is halted, the stop distance is zero,
// or the position limit is reached.
func (m *Manager) CalculatePositionSize(entryPrice, stopLoss float64, signal *smc.Signal) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.canTradeLocked() {
		return 0
	}

	balance := m.accountBalance
	riskAmount := balance * (m.config.MaxRiskPerTrade / 100)
	stopDistance := math.Abs(entryPrice-stopLoss) / entryPrice
	if stopDistance == 0 {
		return 0
	}

	var size float64
	switch m.config.PositionSizingMethod {
	case SizingFixed:
		size = riskAmount / stopDistance
	case SizingPercentage:
		size = (balance * 0.02) / entryPrice
	case SizingKelly:
		size = m.kellySize(signal, stopDistance)
	default:
		size = riskAmount / stopDistance
	}

	// Never risk more than the per-trade allowance.
	maxSize := riskAmount / stopDistance
	size = math.Min(size, maxSize)

	return math.Max(0, size)
}

// kellySize applies a half-Kelly fraction, treating signal confidence as a
// discounted win-rate estimate. The fraction is clamped to [0, 0.25].
func (m *Manager) kellySize(signal *smc.Signal, stopDistance float64) float64 {
	if signal == nil || len(signal.TakeProfit) == 0 || signal.EntryPrice == 0 {
		return 0
	}

	winRate := signal.Confidence * 0.8
	avgWin := signal.TakeProfit[0]/signal.EntryPrice - 1
	avgLoss := stopDistance
	if avgLoss == 0 {
		return 0
	}

	kelly := (winRate*avgWin - (1-winRate)*avgLoss) / avgLoss
	fraction := math.Max(0, math.Min(0.25, kelly*0.5))

	return (m.accountBalance * fraction) / signal.EntryPrice
}

// ValidateSignal checks a signal against the risk rules. A stop closer
// than 0.5% of entry is widened to exactly 0.5%; the first take-profit leg
// is recomputed to preserve the configured risk/reward ratio.
func (m *Manager) ValidateSignal(signal *smc.Signal) Validation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.canTradeLocked() {
		return Validation{Valid: false, Reason: "daily limit reached"}
	}

	risk := math.Abs(signal.EntryPrice - signal.StopLoss)
	if risk == 0 || len(signal.TakeProfit) == 0 {
		return Validation{Valid: false, Reason: "degenerate signal"}
	}
	reward := math.Abs(signal.TakeProfit[0] - signal.EntryPrice)
	ratio := reward / risk

	if ratio < m.config.RiskRewardRatio {
		return Validation{
			Valid:  false,
			Reason: fmt.Sprintf("risk-reward ratio %.2f below minimum %.2f", ratio, m.config.RiskRewardRatio),
		}
	}

	stopLoss := signal.StopLoss
	takeProfit := append([]float64(nil), signal.TakeProfit...)

	minStopDistance := signal.EntryPrice * 0.005
	if risk < minStopDistance {
		if signal.Type == smc.SignalBuy {
			stopLoss = signal.EntryPrice - minStopDistance
		} else {
			stopLoss = signal.EntryPrice + minStopDistance
		}
	}

	newRisk := math.Abs(signal.EntryPrice - stopLoss)
	requiredReward := newRisk * m.config.RiskRewardRatio
	if signal.Type == smc.SignalBuy {
		takeProfit[0] = signal.EntryPrice + requiredReward
	} else {
		takeProfit[0] = signal.EntryPrice - requiredReward
	}

	return Validation{Valid: true, StopLoss: stopLoss, TakeProfit: takeProfit}
}

// RegisterPosition adds a position to the risk accounting view. The
// manager stores its own copy; the caller's struct is never shared.
func (m *Manager) RegisterPosition(position *Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *position
	m.openPositions = append(m.openPositions, &cp)
	m.dailyTrades++

	m.log.Info().
		Str("position_id", position.ID).
		Str("symbol", position.Symbol).
		Str("side", string(position.Side)).
		Float64("quantity", position.Quantity).
		Msg("position registered")
}

// UpdatePosition accumulates realized PnL for a position. Losses feed the
// daily-loss counter; reaching the daily limit halts trading until
// ResetDailyLimits. A CLOSED status removes the position.
func (m *Manager) UpdatePosition(positionID string, realizedPnl float64, status PositionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, p := range m.openPositions {
		if p.ID == positionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	position := m.openPositions[idx]
	position.RealizedPnl += realizedPnl
	position.Status = status

	if realizedPnl < 0 {
		m.dailyLoss += math.Abs(realizedPnl)
		maxDailyLossAmount := m.accountBalance * (m.config.MaxDailyLoss / 100)
		if m.dailyLoss >= maxDailyLossAmount && !m.maxDailyLossReached {
			m.maxDailyLossReached = true
			m.log.Warn().
				Float64("daily_loss", m.dailyLoss).
				Float64("limit", maxDailyLossAmount).
				Msg("daily loss limit reached, trading halted")
		}
	}

	if status == StatusClosed {
		m.openPositions = append(m.openPositions[:idx], m.openPositions[idx+1:]...)
	}
}

// ReduceQuantity shrinks a registered position after a partial exit so
// exposure and VaR reflect the remaining size.
func (m *Manager) ReduceQuantity(positionID string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.openPositions {
		if p.ID == positionID {
			p.Quantity -= amount
			if p.Quantity < 0 {
				p.Quantity = 0
			}
			return
		}
	}
}

// AdjustStopLossToBreakEven returns the fee-adjusted break-even stop once
// unrealized profit reaches 1% of entry value, otherwise the current stop.
func (m *Manager) AdjustStopLossToBreakEven(position *Position, currentPrice float64) float64 {
	var breakEven float64
	if position.Side == SideLong {
		breakEven = position.EntryPrice + position.Fees/position.Quantity
	} else {
		breakEven = position.EntryPrice - position.Fees/position.Quantity
	}

	profitThreshold := position.EntryPrice * 0.01
	currentProfit := math.Abs(currentPrice-position.EntryPrice) * position.Quantity

	if currentProfit >= profitThreshold {
		return breakEven
	}
	return position.StopLoss
}

// CalculateVolatility returns ATR over the trailing period as a fraction
// of the latest close. Returns 0 with fewer than period+1 candles.
func (m *Manager) CalculateVolatility(candles []market.Candle, period int) float64 {
	if period <= 0 {
		period = 14
	}
	if len(candles) < period+1 {
		return 0
	}

	trueRanges := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		current := candles[i]
		previous := candles[i-1]

		tr := current.High - current.Low
		if hc := math.Abs(current.High - previous.Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(current.Low - previous.Close); lc > tr {
			tr = lc
		}
		trueRanges = append(trueRanges, tr)
	}

	var sum float64
	for _, tr := range trueRanges[len(trueRanges)-period:] {
		sum += tr
	}
	atr := sum / float64(period)

	return atr / candles[len(candles)-1].Close
}

// AdjustStopLossByVolatility places the stop 1.5x the ATR distance from
// entry, keeping the initial stop when it is already wider. The stop is
// never tightened past the caller's initial level.
func (m *Manager) AdjustStopLossByVolatility(entryPrice, initialStopLoss, volatility float64, side PositionSide) float64 {
	const multiplier = 1.5
	adjustment := entryPrice * volatility * multiplier

	if side == SideLong {
		return math.Min(initialStopLoss, entryPrice-adjustment)
	}
	return math.Max(initialStopLoss, entryPrice+adjustment)
}

// ShouldTakePartialProfit checks the profit levels in order and returns the
// first untriggered one that current profit has reached. Exit fractions are
// 50%/30%/20% of remaining quantity for levels 0/1/2, 20% beyond.
func (m *Manager) ShouldTakePartialProfit(position *Position, currentPrice float64, profitLevels []float64) PartialExit {
	var currentProfit float64
	if position.Side == SideLong {
		currentProfit = (currentPrice - position.EntryPrice) / position.EntryPrice
	} else {
		currentProfit = (position.EntryPrice - currentPrice) / position.EntryPrice
	}

	exitFractions := []float64{0.5, 0.3, 0.2}

	for i, level := range profitLevels {
		if position.HasTriggeredLevel(i) {
			continue
		}
		if currentProfit >= level {
			fraction := 0.2
			if i < len(exitFractions) {
				fraction = exitFractions[i]
			}
			return PartialExit{
				ShouldExit: true,
				ExitAmount: position.Quantity * fraction,
				ExitPrice:  currentPrice,
				LevelIndex: i,
			}
		}
	}

	return PartialExit{LevelIndex: -1}
}

// ResetDailyLimits clears the daily counters and the halt flag.
func (m *Manager) ResetDailyLimits() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyLoss = 0
	m.dailyTrades = 0
	m.maxDailyLossReached = false
	m.log.Info().Msg("daily risk limits reset")
}

// OpenPositions returns copies of the registered positions. Mutating the
// result never touches the book.
func (m *Manager) OpenPositions() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Position, 0, len(m.openPositions))
	for _, p := range m.openPositions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// RiskStats returns a snapshot of the manager's counters.
func (m *Manager) RiskStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var exposure float64
	for _, p := range m.openPositions {
		exposure += p.Notional()
	}

	available := math.Max(0, m.accountBalance*(m.config.MaxDailyLoss/100)-m.dailyLoss)

	return Stats{
		DailyLoss:           m.dailyLoss,
		DailyTrades:         m.dailyTrades,
		MaxDailyLossReached: m.maxDailyLossReached,
		OpenPositions:       len(m.openPositions),
		MaxPositions:        m.config.MaxPositions,
		AccountBalance:      m.accountBalance,
		RiskExposure:        exposure,
		AvailableRisk:       available,
	}
}
