package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smc-trading-engine/internal/altdata"
	"smc-trading-engine/internal/cache"
	"smc-trading-engine/internal/events"
	"smc-trading-engine/internal/exchange"
	"smc-trading-engine/internal/hedging"
	"smc-trading-engine/internal/market"
	"smc-trading-engine/internal/monitor"
	"smc-trading-engine/internal/notification"
	"smc-trading-engine/internal/risk"
	"smc-trading-engine/internal/smc"
	"smc-trading-engine/internal/workers"
)

// Strategy configures one symbol/timeframe analysis loop.
type Strategy struct {
	Name      string     `json:"name"`
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	Enabled   bool       `json:"enabled"`
	SMCParams smc.Params `json:"smc_params"`
}

// Persistence is the storage surface the engine writes through. Writes are
// fire-and-forget; a failure never blocks trading.
type Persistence interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) error
	SaveSignal(ctx context.Context, strategy, symbol string, signal *smc.Signal) (int64, error)
	SaveTrade(ctx context.Context, strategy string, position *risk.Position) error
	UpdateTrade(ctx context.Context, position *risk.Position, exitPrice float64) error
}

// Config tunes the engine loops and execution thresholds.
type Config struct {
	Exchange         string        `json:"exchange"`
	AnalysisInterval time.Duration `json:"analysis_interval"`
	PositionInterval time.Duration `json:"position_interval"`
	CandleLimit      int           `json:"candle_limit"`
	TWAPNotional     float64       `json:"twap_notional"`
	TWAPSlices       int           `json:"twap_slices"`
	TWAPDuration     time.Duration `json:"twap_duration"`
	VaRConfidence    float64       `json:"var_confidence"`
	ProfitLevels     []float64     `json:"profit_levels"`

	Trailing risk.TrailingConfig `json:"trailing"`
}

// DefaultConfig matches the production loop cadence: analysis every five
// minutes, position checks every thirty seconds, TWAP for orders over $50k.
func DefaultConfig() Config {
	return Config{
		Exchange:         "binance",
		AnalysisInterval: 5 * time.Minute,
		PositionInterval: 30 * time.Second,
		CandleLimit:      100,
		TWAPNotional:     50_000,
		TWAPSlices:       12,
		TWAPDuration:     time.Hour,
		VaRConfidence:    0.95,
		ProfitLevels:     []float64{0.02, 0.04, 0.06},
		Trailing:         risk.DefaultTrailingConfig(),
	}
}

// Deps are the engine's collaborators. Exchange, Risk, Workers and Bus are
// required; the rest may be nil and the matching feature is skipped.
type Deps struct {
	Exchange exchange.Service
	Risk     *risk.InstitutionalManager
	Workers  *workers.Pool
	Bus      *events.Bus
	AltData  altdata.Provider
	Hedger   *hedging.Manager
	Notifier *notification.Manager
	Repo     Persistence
	Cache    *cache.MarketCache
}

// Stats is a snapshot of the engine state.
type Stats struct {
	Running          bool       `json:"running"`
	Paused           bool       `json:"paused"`
	PauseReason      string     `json:"pause_reason,omitempty"`
	ActiveStrategies int        `json:"active_strategies"`
	ActivePositions  int        `json:"active_positions"`
	Risk             risk.Stats `json:"risk"`
}

// Engine orchestrates analysis, signal execution and position management
// across all configured strategies. It owns the strategy and position
// tables; there is no package-level state.
type Engine struct {
	mu sync.RWMutex

	config           Config
	strategies       map[string]Strategy
	activePositions  map[string]*risk.Position
	positionStrategy map[string]string
	entryQuantity    map[string]float64
	monitors         map[string]*monitor.Monitor
	dailyReturns     []float64

	running     bool
	paused      bool
	pauseReason string
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	exchange exchange.Service
	risk     *risk.InstitutionalManager
	trail    *risk.TrailingStopManager
	workers  *workers.Pool
	bus      *events.Bus
	altdata  altdata.Provider
	hedger   *hedging.Manager
	notifier *notification.Manager
	repo     Persistence
	cache    *cache.MarketCache

	monitorConfig monitor.Config
	baseLogger    zerolog.Logger
	now           func() time.Time

	log zerolog.Logger
}

const maxStoredReturns = 1000

// NewEngine wires an engine. It subscribes to drift and regime events so a
// HIGH-severity drift or an extreme-volatility regime pauses new entries
// until Resume is called.
func NewEngine(config Config, deps Deps, logger zerolog.Logger) *Engine {
	e := &Engine{
		config:           config,
		strategies:       make(map[string]Strategy),
		activePositions:  make(map[string]*risk.Position),
		positionStrategy: make(map[string]string),
		entryQuantity:    make(map[string]float64),
		monitors:         make(map[string]*monitor.Monitor),
		exchange:         deps.Exchange,
		risk:             deps.Risk,
		workers:          deps.Workers,
		bus:              deps.Bus,
		altdata:          deps.AltData,
		hedger:           deps.Hedger,
		notifier:         deps.Notifier,
		repo:             deps.Repo,
		cache:            deps.Cache,
		trail:            risk.NewTrailingStopManager(config.Trailing, logger),
		monitorConfig:    monitor.DefaultConfig(),
		baseLogger:       logger,
		now:              time.Now,
		log:              logger.With().Str("component", "engine").Logger(),
	}

	e.bus.Subscribe(events.TypeDriftDetected, func(ev events.Event) {
		if p, ok := ev.Payload.(events.DriftPayload); ok && p.Severity == "HIGH" {
			e.Pause(fmt.Sprintf("strategy drift on %s (z=%.2f)", p.Strategy, p.ZScore))
		}
	})
	e.bus.Subscribe(events.TypeRegimeChanged, func(ev events.Event) {
		if p, ok := ev.Payload.(events.RegimePayload); ok && strings.HasSuffix(p.New, "_EXTREME") {
			e.Pause(fmt.Sprintf("extreme volatility regime on %s", p.Symbol))
		}
	})

	return e
}

// OnKline feeds a streamed price into the monitors of every strategy
// trading the symbol. Lets realtime volatility checks run between
// analysis ticks; satisfies the kline stream handler shape.
func (e *Engine) OnKline(symbol, timeframe string, candle market.Candle, closed bool) {
	e.mu.RLock()
	var mons []*monitor.Monitor
	for name, s := range e.strategies {
		if s.Symbol == symbol {
			if mon := e.monitors[name]; mon != nil {
				mons = append(mons, mon)
			}
		}
	}
	e.mu.RUnlock()

	for _, mon := range mons {
		mon.UpdatePrice(candle.Close)
	}
}

// AddStrategy registers or replaces a strategy and its monitor.
func (e *Engine) AddStrategy(s Strategy) error {
	if s.Name == "" || s.Symbol == "" || s.Timeframe == "" {
		return fmt.Errorf("strategy needs a name, symbol and timeframe")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.strategies[s.Name] = s
	if _, ok := e.monitors[s.Name]; !ok {
		e.monitors[s.Name] = monitor.New(s.Name, s.Symbol, e.monitorConfig, e.bus, e.baseLogger)
	}

	e.log.Info().Str("strategy", s.Name).Str("symbol", s.Symbol).Msg("strategy added")
	return nil
}

// RemoveStrategy drops a strategy. Its open positions keep being managed.
func (e *Engine) RemoveStrategy(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.strategies, name)
	delete(e.monitors, name)
	e.log.Info().Str("strategy", name).Msg("strategy removed")
}

// Strategies returns a snapshot of the configured strategies.
func (e *Engine) Strategies() []Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, s)
	}
	return out
}

// ActivePositions returns a snapshot of the open positions.
func (e *Engine) ActivePositions() []risk.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]risk.Position, 0, len(e.activePositions))
	for _, p := range e.activePositions {
		out = append(out, *p)
	}
	return out
}

// Start launches the analysis and position loops. It returns immediately;
// Stop shuts the loops down.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.log.Warn().Msg("engine already running")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.log.Info().
		Dur("analysis_interval", e.config.AnalysisInterval).
		Dur("position_interval", e.config.PositionInterval).
		Msg("engine starting")
	e.bus.PublishSystem(events.TypeEngineStarted, "")

	e.wg.Add(2)
	go e.analysisLoop(runCtx)
	go e.positionLoop(runCtx)
}

// Stop halts both loops and waits for them to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.bus.PublishSystem(events.TypeEngineStopped, "")
	e.log.Info().Msg("engine stopped")
}

// IsRunning reports whether the loops are active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Pause blocks new entries. Open positions keep being managed. Only Resume
// lifts the pause.
func (e *Engine) Pause(reason string) {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = true
	e.pauseReason = reason
	e.mu.Unlock()

	e.log.Warn().Str("reason", reason).Msg("trading paused")
	e.bus.PublishSystem(events.TypeSystemPaused, reason)
	if e.notifier != nil {
		e.notifier.NotifyError("Trading Paused", reason)
	}
}

// Resume lifts a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = false
	e.pauseReason = ""
	e.mu.Unlock()

	e.log.Info().Msg("trading resumed")
	e.bus.PublishSystem(events.TypeSystemResumed, "")
}

// IsPaused reports whether new entries are blocked.
func (e *Engine) IsPaused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// Stats returns an engine state snapshot.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Running:          e.running,
		Paused:           e.paused,
		PauseReason:      e.pauseReason,
		ActiveStrategies: len(e.strategies),
		ActivePositions:  len(e.activePositions),
		Risk:             e.risk.RiskStats(),
	}
}

// RiskReport builds the institutional risk report from the engine's return
// history.
func (e *Engine) RiskReport() risk.Report {
	e.mu.RLock()
	returns := append([]float64(nil), e.dailyReturns...)
	e.mu.RUnlock()
	return e.risk.RiskReport(returns, e.config.VaRConfidence)
}

func (e *Engine) analysisLoop(ctx context.Context) {
	defer e.wg.Done()

	e.analyzeMarket(ctx)

	ticker := time.NewTicker(e.config.AnalysisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.analyzeMarket(ctx)
		}
	}
}

func (e *Engine) positionLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PositionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.updatePositions(ctx)
		}
	}
}

// analyzeMarket runs one analysis pass over every enabled strategy. A
// strategy failure is logged and isolated from the others.
func (e *Engine) analyzeMarket(ctx context.Context) {
	if e.IsPaused() {
		e.log.Debug().Msg("paused, skipping analysis")
		return
	}

	e.mu.RLock()
	strategies := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		if s.Enabled {
			strategies = append(strategies, s)
		}
	}
	e.mu.RUnlock()

	for _, s := range strategies {
		if err := e.analyzeStrategy(ctx, s); err != nil {
			e.log.Error().Err(err).Str("strategy", s.Name).Msg("strategy analysis failed")
			e.bus.PublishError("engine", fmt.Sprintf("analysis failed for %s", s.Name), err)
		}
	}
}

func (e *Engine) analyzeStrategy(ctx context.Context, s Strategy) error {
	candles, err := e.fetchCandles(ctx, s)
	if err != nil {
		return fmt.Errorf("market data for %s: %w", s.Symbol, err)
	}
	e.recordReturns(candles)

	analysis, err := e.workers.Analyze(ctx, s.Symbol, candles, s.SMCParams)
	if err != nil {
		return fmt.Errorf("analysis for %s: %w", s.Symbol, err)
	}

	ticker, err := e.exchange.GetTicker(ctx, e.config.Exchange, s.Symbol)
	if err != nil {
		return fmt.Errorf("ticker for %s: %w", s.Symbol, err)
	}
	currentPrice := ticker.LastPrice

	e.mu.RLock()
	mon := e.monitors[s.Name]
	e.mu.RUnlock()
	if mon != nil {
		mon.UpdatePrice(currentPrice)
		if e.hedger != nil {
			e.hedger.UpdateMarketVolatility(mon.RealtimeVolatility())
		}
	}

	signals, err := e.workers.GenerateSignals(ctx, s.Symbol, analysis, currentPrice, s.Timeframe, candles, s.SMCParams)
	if err != nil {
		return fmt.Errorf("signals for %s: %w", s.Symbol, err)
	}

	for i := range signals {
		e.processSignal(ctx, s, signals[i])
	}
	return nil
}

// fetchCandles serves market data from the cache when possible and falls
// back to the exchange, repopulating cache and storage on a fresh fetch.
func (e *Engine) fetchCandles(ctx context.Context, s Strategy) ([]market.Candle, error) {
	if e.cache != nil {
		if candles, err := e.cache.GetCandles(ctx, s.Symbol, s.Timeframe); err == nil && len(candles) >= e.config.CandleLimit {
			return candles, nil
		}
	}

	candles, err := e.exchange.GetMarketData(ctx, e.config.Exchange, s.Symbol, s.Timeframe, e.config.CandleLimit)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetCandles(ctx, s.Symbol, s.Timeframe, candles, cache.DefaultCandleTTL); err != nil {
			e.log.Debug().Err(err).Msg("candle cache write failed")
		}
	}
	if e.repo != nil {
		go e.persist(func(ctx context.Context) error {
			return e.repo.SaveCandles(ctx, s.Symbol, s.Timeframe, candles)
		})
	}
	return candles, nil
}

// recordReturns feeds close-to-close returns into the buffer backing the
// portfolio VaR gate.
func (e *Engine) recordReturns(candles []market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 1; i < len(candles); i++ {
		if candles[i-1].Close == 0 {
			continue
		}
		e.dailyReturns = append(e.dailyReturns, (candles[i].Close-candles[i-1].Close)/candles[i-1].Close)
	}
	if len(e.dailyReturns) > maxStoredReturns {
		e.dailyReturns = e.dailyReturns[len(e.dailyReturns)-maxStoredReturns:]
	}
}

// processSignal runs the entry pipeline: confidence refinement, risk
// validation, the portfolio VaR gate, sizing and execution. Any rejection
// drops the signal without touching the books.
func (e *Engine) processSignal(ctx context.Context, s Strategy, signal smc.Signal) {
	if e.altdata != nil {
		if metrics, err := e.altdata.Metrics(ctx, s.Symbol); err == nil {
			if adj := metrics.Adjustment(signal.Type); adj != 0 {
				signal.Confidence = clamp(signal.Confidence+adj, 0.10, 0.99)
				e.log.Debug().Float64("adjustment", adj).Float64("confidence", signal.Confidence).Msg("confidence refined")
			}
		}
	}

	validation := e.risk.ValidateSignal(&signal)
	if !validation.Valid {
		e.log.Info().Str("symbol", s.Symbol).Str("reason", validation.Reason).Msg("signal rejected")
		return
	}
	stopLoss := validation.StopLoss
	takeProfit := validation.TakeProfit

	size := e.risk.CalculatePositionSize(signal.EntryPrice, stopLoss, &signal)
	if size == 0 {
		e.log.Info().Str("symbol", s.Symbol).Msg("zero position size, signal ignored")
		return
	}

	if open := e.risk.OpenPositions(); len(open) > 0 {
		e.mu.RLock()
		returns := append([]float64(nil), e.dailyReturns...)
		e.mu.RUnlock()

		valueAtRisk := e.risk.CalculateVaR(open, returns, e.config.VaRConfidence)
		limit := e.risk.AccountBalance() * e.risk.Config().MaxDailyLoss / 100
		if valueAtRisk > limit {
			e.log.Warn().Float64("var", valueAtRisk).Float64("limit", limit).Msg("portfolio VaR gate rejected signal")
			return
		}
	}

	side := exchange.SideBuy
	posSide := risk.SideLong
	if signal.Type == smc.SignalSell {
		side = exchange.SideSell
		posSide = risk.SideShort
	}

	var order *exchange.OrderResult
	var err error
	if size*signal.EntryPrice > e.config.TWAPNotional {
		e.log.Info().Float64("notional", size*signal.EntryPrice).Msg("large order, executing via TWAP")
		order, err = e.exchange.ExecuteTWAP(ctx, e.config.Exchange, s.Symbol, side, size, e.config.TWAPSlices, e.config.TWAPDuration)
	} else {
		order, err = e.exchange.CreateOrderWithStopLossAndTakeProfit(ctx, e.config.Exchange, s.Symbol, side, size, stopLoss, takeProfit)
	}
	if err != nil {
		e.log.Error().Err(err).Str("symbol", s.Symbol).Msg("order execution failed")
		e.bus.PublishError("engine", fmt.Sprintf("execution failed for %s", s.Symbol), err)
		return
	}

	position := &risk.Position{
		ID:         uuid.New().String(),
		Symbol:     s.Symbol,
		Side:       posSide,
		EntryPrice: signal.EntryPrice,
		Quantity:   size,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Status:     risk.StatusOpen,
		OpenTime:   e.now().UnixMilli(),
	}
	if order != nil && order.Price > 0 {
		position.EntryPrice = order.Price
	}

	e.risk.RegisterPosition(position)
	e.trail.Track(position)

	e.log.Info().
		Str("position_id", position.ID).
		Str("symbol", s.Symbol).
		Str("side", string(posSide)).
		Float64("entry", position.EntryPrice).
		Float64("quantity", size).
		Msg("position opened")

	e.bus.PublishSignal(events.SignalPayload{
		Strategy:   s.Name,
		Symbol:     s.Symbol,
		SignalType: string(signal.Type),
		EntryPrice: signal.EntryPrice,
		Confidence: signal.Confidence,
		Reason:     signal.Reason,
	})
	e.bus.PublishPosition(events.TypePositionOpened, positionPayload(position, position.EntryPrice))

	if e.notifier != nil {
		e.notifier.NotifySignal(s.Symbol, &signal)
		e.notifier.NotifyPosition(position)
	}
	if e.repo != nil {
		sig := signal
		pos := *position
		go e.persist(func(ctx context.Context) error {
			if _, err := e.repo.SaveSignal(ctx, s.Name, s.Symbol, &sig); err != nil {
				return err
			}
			return e.repo.SaveTrade(ctx, s.Name, &pos)
		})
	}

	// Inserted last: once the position is in the table the position loop
	// may start mutating it under the engine lock.
	e.mu.Lock()
	e.activePositions[position.ID] = position
	e.positionStrategy[position.ID] = s.Name
	e.entryQuantity[position.ID] = size
	e.mu.Unlock()
}

// updatePositions runs one management pass over all open positions and
// then lets the hedger look at the book. Per-position failures are
// isolated.
func (e *Engine) updatePositions(ctx context.Context) {
	e.mu.RLock()
	positions := make([]*risk.Position, 0, len(e.activePositions))
	for _, p := range e.activePositions {
		if p.Status == risk.StatusClosed {
			continue
		}
		positions = append(positions, p)
	}
	e.mu.RUnlock()

	for _, position := range positions {
		if err := e.managePosition(ctx, position); err != nil {
			e.log.Error().Err(err).Str("position_id", position.ID).Msg("position update failed")
			e.bus.PublishError("engine", fmt.Sprintf("position update failed for %s", position.Symbol), err)
		}
	}

	if e.hedger != nil {
		if err := e.hedger.EvaluatePortfolio(ctx, e.ActivePositions()); err != nil {
			e.log.Warn().Err(err).Msg("hedging evaluation failed")
		}
	}
}

func (e *Engine) managePosition(ctx context.Context, position *risk.Position) error {
	ticker, err := e.exchange.GetTicker(ctx, e.config.Exchange, position.Symbol)
	if err != nil {
		return fmt.Errorf("ticker for %s: %w", position.Symbol, err)
	}
	currentPrice := ticker.LastPrice

	if newStop := e.risk.AdjustStopLossToBreakEven(position, currentPrice); stopImproves(position, newStop) {
		if err := e.exchange.UpdateStopLoss(ctx, e.config.Exchange, position.Symbol, position.ID, newStop); err != nil {
			e.log.Warn().Err(err).Str("position_id", position.ID).Msg("stop loss update failed")
		} else {
			e.log.Info().Str("position_id", position.ID).Float64("stop", newStop).Msg("stop moved to break-even")
			e.mu.Lock()
			position.StopLoss = newStop
			e.mu.Unlock()
			e.bus.PublishPosition(events.TypePositionUpdated, positionPayload(position, currentPrice))
		}
	}

	if upd := e.trail.UpdatePrice(position, currentPrice); upd != nil {
		if err := e.exchange.UpdateStopLoss(ctx, e.config.Exchange, position.Symbol, position.ID, upd.NewStopLoss); err != nil {
			e.log.Warn().Err(err).Str("position_id", position.ID).Msg("trailing stop update failed")
		} else {
			e.log.Info().
				Str("position_id", position.ID).
				Float64("old_stop", upd.OldStopLoss).
				Float64("new_stop", upd.NewStopLoss).
				Msg("trailing stop tightened")
			e.mu.Lock()
			position.StopLoss = upd.NewStopLoss
			e.mu.Unlock()
			e.bus.PublishPosition(events.TypePositionUpdated, positionPayload(position, currentPrice))
		}
	}

	if exit := e.risk.ShouldTakePartialProfit(position, currentPrice, e.config.ProfitLevels); exit.ShouldExit {
		if err := e.executePartialExit(ctx, position, exit); err != nil {
			e.log.Warn().Err(err).Str("position_id", position.ID).Msg("partial exit failed")
		}
		if position.Status == risk.StatusClosed {
			return nil
		}
	}

	if reason, ok := e.shouldClosePosition(position, currentPrice); ok {
		return e.closePosition(ctx, position, currentPrice, reason)
	}
	return nil
}

func (e *Engine) executePartialExit(ctx context.Context, position *risk.Position, exit risk.PartialExit) error {
	side := exchange.SideSell
	if position.Side == risk.SideShort {
		side = exchange.SideBuy
	}

	if _, err := e.exchange.CreateMarketOrder(ctx, e.config.Exchange, position.Symbol, side, exit.ExitAmount); err != nil {
		return fmt.Errorf("partial exit order: %w", err)
	}

	pnl := (exit.ExitPrice - position.EntryPrice) * exit.ExitAmount
	if position.Side == risk.SideShort {
		pnl = (position.EntryPrice - exit.ExitPrice) * exit.ExitAmount
	}

	e.mu.Lock()
	position.Quantity -= exit.ExitAmount
	position.TriggeredTPLevels = append(position.TriggeredTPLevels, exit.LevelIndex)
	position.RealizedPnl += pnl

	status := risk.StatusPartiallyClosed
	if position.Quantity <= 1e-5 {
		status = risk.StatusClosed
		position.Quantity = 0
		position.CloseTime = e.now().UnixMilli()
	}
	position.Status = status
	e.mu.Unlock()

	e.risk.ReduceQuantity(position.ID, exit.ExitAmount)
	e.risk.UpdatePosition(position.ID, pnl, status)

	e.log.Info().
		Str("position_id", position.ID).
		Int("level", exit.LevelIndex).
		Float64("amount", exit.ExitAmount).
		Float64("pnl", pnl).
		Msg("partial profit taken")

	if status == risk.StatusClosed {
		e.finishPosition(position, exit.ExitPrice, "final partial exit")
	} else {
		e.bus.PublishPosition(events.TypePositionUpdated, positionPayload(position, exit.ExitPrice))
		if e.repo != nil {
			pos := *position
			go e.persist(func(ctx context.Context) error {
				return e.repo.UpdateTrade(ctx, &pos, exit.ExitPrice)
			})
		}
	}
	return nil
}

// shouldClosePosition checks the stop, every profit target and the weekend
// cutoff (Friday 18:00 local).
func (e *Engine) shouldClosePosition(position *risk.Position, currentPrice float64) (string, bool) {
	long := position.Side == risk.SideLong

	if (long && currentPrice <= position.StopLoss) || (!long && currentPrice >= position.StopLoss) {
		return "stop loss hit", true
	}

	for _, tp := range position.TakeProfit {
		if (long && currentPrice >= tp) || (!long && currentPrice <= tp) {
			return fmt.Sprintf("take profit %.4f reached", tp), true
		}
	}

	now := e.now()
	if now.Weekday() == time.Friday && now.Hour() >= 18 {
		return "weekend close", true
	}

	return "", false
}

func (e *Engine) closePosition(ctx context.Context, position *risk.Position, currentPrice float64, reason string) error {
	side := exchange.SideSell
	if position.Side == risk.SideShort {
		side = exchange.SideBuy
	}
	if position.Quantity > 0 {
		if _, err := e.exchange.CreateMarketOrder(ctx, e.config.Exchange, position.Symbol, side, position.Quantity); err != nil {
			return fmt.Errorf("close order for %s: %w", position.Symbol, err)
		}
	}

	pnl := (currentPrice-position.EntryPrice)*position.Quantity - position.Fees
	if position.Side == risk.SideShort {
		pnl = (position.EntryPrice-currentPrice)*position.Quantity - position.Fees
	}

	e.mu.Lock()
	position.CloseTime = e.now().UnixMilli()
	position.Status = risk.StatusClosed
	position.RealizedPnl += pnl
	e.mu.Unlock()
	e.risk.UpdatePosition(position.ID, pnl, risk.StatusClosed)

	e.log.Info().
		Str("position_id", position.ID).
		Str("reason", reason).
		Float64("pnl", pnl).
		Msg("position closed")

	e.finishPosition(position, currentPrice, reason)
	return nil
}

// finishPosition removes a closed position from the engine tables, feeds
// the strategy monitor and fans out close notifications.
func (e *Engine) finishPosition(position *risk.Position, exitPrice float64, reason string) {
	e.trail.Untrack(position.ID)

	e.mu.Lock()
	strategyName := e.positionStrategy[position.ID]
	openedQty := e.entryQuantity[position.ID]
	delete(e.activePositions, position.ID)
	delete(e.positionStrategy, position.ID)
	delete(e.entryQuantity, position.ID)
	mon := e.monitors[strategyName]
	e.mu.Unlock()

	if mon != nil {
		if notional := position.EntryPrice * openedQty; notional > 0 {
			mon.UpdateReturn(position.RealizedPnl / notional)
		}
	}

	e.bus.PublishPosition(events.TypePositionClosed, positionPayload(position, exitPrice))
	if e.notifier != nil {
		e.notifier.NotifyPositionClosed(position, exitPrice, reason)
	}
	if e.repo != nil {
		pos := *position
		go e.persist(func(ctx context.Context) error {
			return e.repo.UpdateTrade(ctx, &pos, exitPrice)
		})
	}
}

// persist runs a storage write with its own timeout, logging failures.
func (e *Engine) persist(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		e.log.Warn().Err(err).Msg("persistence write failed")
	}
}

func positionPayload(p *risk.Position, currentPrice float64) events.PositionPayload {
	return events.PositionPayload{
		PositionID:   p.ID,
		Symbol:       p.Symbol,
		Side:         string(p.Side),
		EntryPrice:   p.EntryPrice,
		CurrentPrice: currentPrice,
		Quantity:     p.Quantity,
		RealizedPnl:  p.RealizedPnl,
		Status:       string(p.Status),
	}
}

// stopImproves reports whether newStop tightens the position's stop. Stops
// only ever move in the position's favor.
func stopImproves(position *risk.Position, newStop float64) bool {
	if newStop == position.StopLoss {
		return false
	}
	if position.Side == risk.SideLong {
		return newStop > position.StopLoss
	}
	return newStop < position.StopLoss
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
