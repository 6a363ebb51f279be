package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-engine/internal/market"
	"smc-trading-engine/internal/smc"
)

// Cache key layouts and default TTLs.
const (
	keyCandles  = "market:candles:%s:%s"
	keyAnalysis = "market:analysis:%s:%s"

	DefaultCandleTTL   = 5 * time.Minute
	DefaultAnalysisTTL = 5 * time.Minute
)

// MarketCache stores candle batches and analysis snapshots keyed by symbol
// and timeframe.
type MarketCache struct {
	store Store
	log   zerolog.Logger
}

// NewMarketCache wraps a Store.
func NewMarketCache(store Store, logger zerolog.Logger) *MarketCache {
	return &MarketCache{
		store: store,
		log:   logger.With().Str("component", "market_cache").Logger(),
	}
}

// SetCandles caches a candle batch.
func (c *MarketCache) SetCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle, ttl time.Duration) error {
	if !c.store.IsHealthy() {
		return ErrCacheUnavailable
	}

	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("marshal candles: %w", err)
	}
	return c.store.Set(ctx, fmt.Sprintf(keyCandles, symbol, timeframe), string(data), ttl)
}

// GetCandles returns a cached candle batch, ErrCacheMiss when absent.
func (c *MarketCache) GetCandles(ctx context.Context, symbol, timeframe string) ([]market.Candle, error) {
	if !c.store.IsHealthy() {
		return nil, ErrCacheUnavailable
	}

	data, err := c.store.Get(ctx, fmt.Sprintf(keyCandles, symbol, timeframe))
	if err != nil {
		return nil, err
	}

	var candles []market.Candle
	if err := json.Unmarshal([]byte(data), &candles); err != nil {
		return nil, fmt.Errorf("unmarshal candles: %w", err)
	}
	return candles, nil
}

// SetAnalysis caches an analysis snapshot.
func (c *MarketCache) SetAnalysis(ctx context.Context, symbol, timeframe string, analysis *smc.Analysis, ttl time.Duration) error {
	if !c.store.IsHealthy() {
		return ErrCacheUnavailable
	}

	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	return c.store.Set(ctx, fmt.Sprintf(keyAnalysis, symbol, timeframe), string(data), ttl)
}

// GetAnalysis returns a cached analysis snapshot, ErrCacheMiss when absent.
func (c *MarketCache) GetAnalysis(ctx context.Context, symbol, timeframe string) (*smc.Analysis, error) {
	if !c.store.IsHealthy() {
		return nil, ErrCacheUnavailable
	}

	data, err := c.store.Get(ctx, fmt.Sprintf(keyAnalysis, symbol, timeframe))
	if err != nil {
		return nil, err
	}

	var analysis smc.Analysis
	if err := json.Unmarshal([]byte(data), &analysis); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return &analysis, nil
}

// Invalidate drops the cached entries for one symbol and timeframe.
func (c *MarketCache) Invalidate(ctx context.Context, symbol, timeframe string) error {
	if !c.store.IsHealthy() {
		return ErrCacheUnavailable
	}

	if err := c.store.Delete(ctx, fmt.Sprintf(keyCandles, symbol, timeframe)); err != nil {
		return err
	}
	return c.store.Delete(ctx, fmt.Sprintf(keyAnalysis, symbol, timeframe))
}
