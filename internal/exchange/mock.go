package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"smc-trading-engine/internal/market"
)

// MockService simulates an exchange for development and tests. Market data
// is a seeded random walk; orders fill instantly at the walked price.
type MockService struct {
	mu         sync.RWMutex
	prices     map[string]float64
	lastUpdate time.Time
	orders     []OrderResult
	stops      map[string]float64
	rng        *rand.Rand
}

// NewMockService creates a mock with realistic base prices.
func NewMockService() *MockService {
	return &MockService{
		prices: map[string]float64{
			"BTCUSDT": 104500.00,
			"ETHUSDT": 3900.00,
			"BNBUSDT": 710.00,
			"SOLUSDT": 220.00,
			"XRPUSDT": 2.35,
			"ADAUSDT": 1.05,
		},
		lastUpdate: time.Now(),
		stops:      make(map[string]float64),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetPrice pins a symbol's price, bypassing the random walk.
func (m *MockService) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	m.lastUpdate = time.Now()
}

// updatePrices applies a small random walk at most once per second.
func (m *MockService) updatePrices() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastUpdate) < time.Second {
		return
	}

	for symbol, price := range m.prices {
		change := (m.rng.Float64() - 0.5) * 0.01
		m.prices[symbol] = price * (1 + change)
	}
	m.lastUpdate = time.Now()
}

func (m *MockService) basePrice(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.prices[symbol]; ok {
		return p
	}
	return 100.0
}

func timeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// GetMarketData generates a synthetic candle series ending at the symbol's
// current price.
func (m *MockService) GetMarketData(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]market.Candle, error) {
	m.updatePrices()

	base := m.basePrice(symbol)
	interval := timeframeDuration(timeframe)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	candles := make([]market.Candle, limit)
	price := base
	for i := limit - 1; i >= 0; i-- {
		openTime := now.Add(-time.Duration(limit-i) * interval)

		const volatility = 0.02
		open := price
		change := (m.rng.Float64() - 0.5) * volatility * 2
		close := open * (1 + change)
		high := math.Max(open, close) * (1 + m.rng.Float64()*volatility*0.5)
		low := math.Min(open, close) * (1 - m.rng.Float64()*volatility*0.5)
		volume := 1000 + m.rng.Float64()*5000

		candles[i] = market.Candle{
			Timestamp: openTime.UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
		}
		price = close
	}

	return market.Normalize(candles), nil
}

// GetTicker returns a synthetic 24h ticker.
func (m *MockService) GetTicker(ctx context.Context, exchange, symbol string) (*Ticker, error) {
	m.updatePrices()
	price := m.basePrice(symbol)

	return &Ticker{
		Symbol:             symbol,
		LastPrice:          price,
		PriceChangePercent: (m.rng.Float64() - 0.5) * 10,
		Volume:             10000 + m.rng.Float64()*50000,
		QuoteVolume:        price * (10000 + m.rng.Float64()*50000),
	}, nil
}

func (m *MockService) fill(symbol string, side OrderSide, quantity float64) OrderResult {
	result := OrderResult{
		OrderID:   uuid.New().String(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     m.basePrice(symbol),
		Status:    "FILLED",
		Timestamp: time.Now().UnixMilli(),
	}

	m.mu.Lock()
	m.orders = append(m.orders, result)
	m.mu.Unlock()

	return result
}

// CreateMarketOrder fills instantly at the current mock price.
func (m *MockService) CreateMarketOrder(ctx context.Context, exchange, symbol string, side OrderSide, quantity float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %f for %s", quantity, symbol)
	}
	result := m.fill(symbol, side, quantity)
	return &result, nil
}

// CreateOrderWithStopLossAndTakeProfit fills the entry and records the stop.
func (m *MockService) CreateOrderWithStopLossAndTakeProfit(ctx context.Context, exchange, symbol string, side OrderSide, quantity, stopLoss float64, takeProfit []float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %f for %s", quantity, symbol)
	}
	result := m.fill(symbol, side, quantity)

	m.mu.Lock()
	m.stops[result.OrderID] = stopLoss
	m.mu.Unlock()

	return &result, nil
}

// ExecuteTWAP fills all slices instantly; the mock has no market impact.
func (m *MockService) ExecuteTWAP(ctx context.Context, exchange, symbol string, side OrderSide, quantity float64, slices int, duration time.Duration) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %f for %s", quantity, symbol)
	}
	result := m.fill(symbol, side, quantity)
	return &result, nil
}

// UpdateStopLoss records the new stop for the position.
func (m *MockService) UpdateStopLoss(ctx context.Context, exchange, symbol, positionID string, stopLoss float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops[positionID] = stopLoss
	return nil
}

// Orders returns a snapshot of every filled order.
func (m *MockService) Orders() []OrderResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]OrderResult(nil), m.orders...)
}

// StopFor returns the recorded stop for a position id.
func (m *MockService) StopFor(positionID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stops[positionID]
	return s, ok
}
