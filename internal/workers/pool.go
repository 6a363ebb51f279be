package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smc-trading-engine/internal/market"
	"smc-trading-engine/internal/smc"
)

const (
	defaultTimeout = 5 * time.Second
	taskQueueSize  = 32
)

var (
	// ErrTimeout is returned when a request is abandoned after the pool
	// timeout. The worker keeps running; only the request is dropped.
	ErrTimeout = errors.New("analysis request timed out")

	// ErrPoolClosed is returned for requests after Shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// task is one unit of work routed to a symbol's worker. Each concrete task
// carries its own typed reply channel.
type task interface {
	correlationID() string
	taskParams() smc.Params
	execute(a *smc.Analyzer)
}

type analyzeResult struct {
	analysis *smc.Analysis
	err      error
}

type analyzeTask struct {
	id      string
	params  smc.Params
	candles []market.Candle
	reply   chan analyzeResult
}

func (t *analyzeTask) correlationID() string  { return t.id }
func (t *analyzeTask) taskParams() smc.Params { return t.params }
func (t *analyzeTask) execute(a *smc.Analyzer) {
	t.reply <- analyzeResult{analysis: a.Analyze(t.candles)}
}

type signalsResult struct {
	signals []smc.Signal
	err     error
}

type signalsTask struct {
	id           string
	params       smc.Params
	analysis     *smc.Analysis
	currentPrice float64
	timeframe    string
	candles      []market.Candle
	reply        chan signalsResult
}

func (t *signalsTask) correlationID() string  { return t.id }
func (t *signalsTask) taskParams() smc.Params { return t.params }
func (t *signalsTask) execute(a *smc.Analyzer) {
	t.reply <- signalsResult{signals: a.GenerateSignals(t.analysis, t.currentPrice, t.timeframe, t.candles)}
}

// WorkerMetrics is a snapshot of one worker's counters.
type WorkerMetrics struct {
	Symbol         string    `json:"symbol"`
	TasksCompleted uint64    `json:"tasks_completed"`
	StartedAt      time.Time `json:"started_at"`
	LastActive     time.Time `json:"last_active"`
}

// worker owns one symbol's analyzer and processes its queue in FIFO order.
type worker struct {
	symbol    string
	tasks     chan task
	analyzer  *smc.Analyzer
	params    smc.Params
	startedAt time.Time

	completed  atomic.Uint64
	lastActive atomic.Int64
}

// ensureAnalyzer reuses the analyzer across requests, rebuilding it only
// when the requested params differ from the current ones.
func (w *worker) ensureAnalyzer(params smc.Params) {
	if w.analyzer == nil || w.params != params {
		w.analyzer = smc.NewAnalyzer(params)
		w.params = params
	}
}

// Pool runs one lazily created analysis worker per symbol. Requests for a
// symbol complete in dispatch order; no ordering holds across symbols.
type Pool struct {
	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	timeout time.Duration
	log     zerolog.Logger
}

// NewPool creates an empty pool. Workers spawn on first request.
func NewPool(logger zerolog.Logger) *Pool {
	return &Pool{
		workers: make(map[string]*worker),
		timeout: defaultTimeout,
		log:     logger.With().Str("component", "workers").Logger(),
	}
}

// Analyze runs a full pattern analysis on the symbol's worker.
func (p *Pool) Analyze(ctx context.Context, symbol string, candles []market.Candle, params smc.Params) (*smc.Analysis, error) {
	t := &analyzeTask{
		id:      uuid.New().String(),
		params:  params,
		candles: candles,
		reply:   make(chan analyzeResult, 1),
	}

	if err := p.dispatch(ctx, symbol, t); err != nil {
		return nil, err
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case res := <-t.reply:
		return res.analysis, res.err
	case <-timer.C:
		p.log.Warn().Str("symbol", symbol).Str("task_id", t.id).Msg("analysis task abandoned after timeout")
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GenerateSignals derives trade signals on the symbol's worker.
func (p *Pool) GenerateSignals(ctx context.Context, symbol string, analysis *smc.Analysis, currentPrice float64, timeframe string, candles []market.Candle, params smc.Params) ([]smc.Signal, error) {
	t := &signalsTask{
		id:           uuid.New().String(),
		params:       params,
		analysis:     analysis,
		currentPrice: currentPrice,
		timeframe:    timeframe,
		candles:      candles,
		reply:        make(chan signalsResult, 1),
	}

	if err := p.dispatch(ctx, symbol, t); err != nil {
		return nil, err
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case res := <-t.reply:
		return res.signals, res.err
	case <-timer.C:
		p.log.Warn().Str("symbol", symbol).Str("task_id", t.id).Msg("signal task abandoned after timeout")
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) dispatch(ctx context.Context, symbol string, t task) error {
	w, err := p.workerFor(symbol)
	if err != nil {
		return err
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case w.tasks <- t:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// workerFor returns the symbol's worker, creating it on first use.
func (p *Pool) workerFor(symbol string) (*worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if w, ok := p.workers[symbol]; ok {
		return w, nil
	}

	w := &worker{
		symbol:    symbol,
		tasks:     make(chan task, taskQueueSize),
		startedAt: time.Now(),
	}
	p.workers[symbol] = w

	p.log.Info().Str("symbol", symbol).Msg("starting analysis worker")
	go p.run(w)

	return w, nil
}

// run is the worker goroutine. A panic in a task removes the worker from
// the pool; the next request for the symbol recreates it.
func (p *Pool) run(w *worker) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("symbol", w.symbol).Interface("panic", r).Msg("worker crashed")
			p.remove(w)
		}
	}()

	for t := range w.tasks {
		w.ensureAnalyzer(t.taskParams())
		t.execute(w.analyzer)
		w.completed.Add(1)
		w.lastActive.Store(time.Now().UnixMilli())
	}
}

func (p *Pool) remove(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.workers[w.symbol]; ok && current == w {
		delete(p.workers, w.symbol)
	}
}

// Metrics returns a per-symbol snapshot of worker counters.
func (p *Pool) Metrics() map[string]WorkerMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	metrics := make(map[string]WorkerMetrics, len(p.workers))
	for symbol, w := range p.workers {
		metrics[symbol] = WorkerMetrics{
			Symbol:         symbol,
			TasksCompleted: w.completed.Load(),
			StartedAt:      w.startedAt,
			LastActive:     time.UnixMilli(w.lastActive.Load()),
		}
	}
	return metrics
}

// ActiveWorkers returns the symbols that currently have a worker.
func (p *Pool) ActiveWorkers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	symbols := make([]string, 0, len(p.workers))
	for symbol := range p.workers {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// Shutdown stops all workers. Pending queued tasks still run; new requests
// fail with ErrPoolClosed.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for symbol, w := range p.workers {
		close(w.tasks)
		delete(p.workers, symbol)
	}
	p.log.Info().Msg("worker pool shut down")
}
