package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"smc-trading-engine/internal/market"
	"smc-trading-engine/internal/risk"
	"smc-trading-engine/internal/smc"
)

// SignalRecord is a persisted trading signal.
type SignalRecord struct {
	ID         int64     `json:"id"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	SignalType string    `json:"signal_type"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit []float64 `json:"take_profit"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Timeframe  string    `json:"timeframe"`
	CreatedAt  time.Time `json:"created_at"`
}

// TradeRecord is a persisted position lifecycle row.
type TradeRecord struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	Quantity   float64    `json:"quantity"`
	StopLoss   float64    `json:"stop_loss"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	Pnl        *float64   `json:"pnl,omitempty"`
	Fees       float64    `json:"fees"`
	Strategy   string     `json:"strategy"`
	Status     string     `json:"status"`
}

// Repository provides data access methods.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over an open connection pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// SaveCandles upserts a candle batch for one symbol and timeframe.
func (r *Repository) SaveCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, open_time)
		DO UPDATE SET open = $4, high = $5, low = $6, close = $7, volume = $8
	`
	for _, c := range candles {
		batch.Queue(query, symbol, timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save candles for %s: %w", symbol, err)
		}
	}
	return nil
}

// SaveSignal inserts a generated signal.
func (r *Repository) SaveSignal(ctx context.Context, strategy, symbol string, signal *smc.Signal) (int64, error) {
	query := `
		INSERT INTO signals (strategy, symbol, signal_type, entry_price, stop_loss, take_profit, confidence, reason, timeframe)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var id int64
	err := r.db.Pool.QueryRow(
		ctx, query,
		strategy, symbol, string(signal.Type), signal.EntryPrice, signal.StopLoss,
		signal.TakeProfit, signal.Confidence, signal.Reason, signal.Timeframe,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save signal for %s: %w", symbol, err)
	}
	return id, nil
}

// RecentSignals returns the latest signals for a symbol, newest first.
func (r *Repository) RecentSignals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error) {
	query := `
		SELECT id, strategy, symbol, signal_type, entry_price, stop_loss, take_profit, confidence, reason, timeframe, created_at
		FROM signals
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []SignalRecord
	for rows.Next() {
		var s SignalRecord
		if err := rows.Scan(
			&s.ID, &s.Strategy, &s.Symbol, &s.SignalType, &s.EntryPrice, &s.StopLoss,
			&s.TakeProfit, &s.Confidence, &s.Reason, &s.Timeframe, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// SaveTrade inserts an opened position.
func (r *Repository) SaveTrade(ctx context.Context, strategy string, position *risk.Position) error {
	query := `
		INSERT INTO trades (id, symbol, side, entry_price, quantity, stop_loss, entry_time, fees, strategy, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		position.ID, position.Symbol, string(position.Side), position.EntryPrice,
		position.Quantity, position.StopLoss, time.UnixMilli(position.OpenTime), position.Fees,
		strategy, string(position.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", position.ID, err)
	}
	return nil
}

// UpdateTrade records the latest state of a position, including partial and
// final exits.
func (r *Repository) UpdateTrade(ctx context.Context, position *risk.Position, exitPrice float64) error {
	query := `
		UPDATE trades
		SET exit_price = $2, exit_time = $3, pnl = $4, fees = $5, quantity = $6, status = $7, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	var exitTime *time.Time
	if position.Status == risk.StatusClosed && position.CloseTime > 0 {
		t := time.UnixMilli(position.CloseTime)
		exitTime = &t
	}
	_, err := r.db.Pool.Exec(
		ctx, query,
		position.ID, exitPrice, exitTime, position.RealizedPnl, position.Fees,
		position.Quantity, string(position.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", position.ID, err)
	}
	return nil
}

// OpenTrades returns every trade not yet fully closed.
func (r *Repository) OpenTrades(ctx context.Context) ([]TradeRecord, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, quantity, stop_loss, entry_time, exit_time, pnl, fees, strategy, status
		FROM trades
		WHERE status != 'CLOSED'
		ORDER BY entry_time
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&t.StopLoss, &t.EntryTime, &t.ExitTime, &t.Pnl, &t.Fees, &t.Strategy, &t.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
