package exchange

import (
	"context"
	"time"

	"smc-trading-engine/internal/market"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Ticker is a 24h price snapshot for a symbol.
type Ticker struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"last_price"`
	PriceChangePercent float64 `json:"price_change_percent"`
	Volume             float64 `json:"volume"`
	QuoteVolume        float64 `json:"quote_volume"`
}

// OrderResult is the outcome of an execution request. For TWAP runs Price
// is the volume-weighted average of the filled slices.
type OrderResult struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`
	Timestamp int64     `json:"timestamp"`
}

// Service is the execution surface the engine depends on. The exchange
// argument selects the venue; implementations may support a single venue
// and ignore it.
type Service interface {
	GetMarketData(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]market.Candle, error)
	GetTicker(ctx context.Context, exchange, symbol string) (*Ticker, error)
	CreateMarketOrder(ctx context.Context, exchange, symbol string, side OrderSide, quantity float64) (*OrderResult, error)
	CreateOrderWithStopLossAndTakeProfit(ctx context.Context, exchange, symbol string, side OrderSide, quantity, stopLoss float64, takeProfit []float64) (*OrderResult, error)
	ExecuteTWAP(ctx context.Context, exchange, symbol string, side OrderSide, quantity float64, slices int, duration time.Duration) (*OrderResult, error)
	UpdateStopLoss(ctx context.Context, exchange, symbol, positionID string, stopLoss float64) error
}

var (
	_ Service = (*Client)(nil)
	_ Service = (*MockService)(nil)
)
