package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smc-trading-engine/internal/market"
)

// Client is a REST execution client for a Binance-compatible venue.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a REST client against the given base URL.
func NewClient(apiKey, secretKey, baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.With().Str("component", "exchange").Logger(),
	}
}

// GetMarketData fetches candles for a symbol and timeframe.
func (c *Client) GetMarketData(ctx context.Context, exchange, symbol, timeframe string, limit int) ([]market.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, params.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("parsing klines: %w", err)
	}

	candles := make([]market.Candle, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 6 {
			continue
		}
		candles = append(candles, market.Candle{
			Timestamp: int64(toFloat(raw[0])),
			Open:      toFloat(raw[1]),
			High:      toFloat(raw[2]),
			Low:       toFloat(raw[3]),
			Close:     toFloat(raw[4]),
			Volume:    toFloat(raw[5]),
		})
	}

	return market.Normalize(candles), nil
}

// GetTicker fetches the 24h ticker for a symbol.
func (c *Client) GetTicker(ctx context.Context, exchange, symbol string) (*Ticker, error) {
	endpoint := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", c.baseURL, symbol)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching ticker: %w", err)
	}

	var raw struct {
		Symbol             string  `json:"symbol"`
		LastPrice          float64 `json:"lastPrice,string"`
		PriceChangePercent float64 `json:"priceChangePercent,string"`
		Volume             float64 `json:"volume,string"`
		QuoteVolume        float64 `json:"quoteVolume,string"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing ticker: %w", err)
	}

	return &Ticker{
		Symbol:             raw.Symbol,
		LastPrice:          raw.LastPrice,
		PriceChangePercent: raw.PriceChangePercent,
		Volume:             raw.Volume,
		QuoteVolume:        raw.QuoteVolume,
	}, nil
}

// CreateMarketOrder places a single market order.
func (c *Client) CreateMarketOrder(ctx context.Context, exchange, symbol string, side OrderSide, quantity float64) (*OrderResult, error) {
	params := map[string]string{
		"symbol":   symbol,
		"side":     string(side),
		"type":     "MARKET",
		"quantity": strconv.FormatFloat(quantity, 'f', -1, 64),
	}

	return c.placeOrder(ctx, params)
}

// CreateOrderWithStopLossAndTakeProfit places a market entry and brackets
// it with a stop order and one limit order per take-profit leg.
func (c *Client) CreateOrderWithStopLossAndTakeProfit(ctx context.Context, exchange, symbol string, side OrderSide, quantity, stopLoss float64, takeProfit []float64) (*OrderResult, error) {
	entry, err := c.CreateMarketOrder(ctx, exchange, symbol, side, quantity)
	if err != nil {
		return nil, fmt.Errorf("placing entry order: %w", err)
	}

	exitSide := SideSell
	if side == SideSell {
		exitSide = SideBuy
	}

	stopParams := map[string]string{
		"symbol":    symbol,
		"side":      string(exitSide),
		"type":      "STOP_LOSS_LIMIT",
		"quantity":  strconv.FormatFloat(quantity, 'f', -1, 64),
		"stopPrice": strconv.FormatFloat(stopLoss, 'f', -1, 64),
		"price":     strconv.FormatFloat(stopLoss, 'f', -1, 64),
	}
	if _, err := c.placeOrder(ctx, stopParams); err != nil {
		return nil, fmt.Errorf("placing stop order: %w", err)
	}

	for _, tp := range takeProfit {
		tpParams := map[string]string{
			"symbol":   symbol,
			"side":     string(exitSide),
			"type":     "LIMIT",
			"quantity": strconv.FormatFloat(quantity/float64(len(takeProfit)), 'f', -1, 64),
			"price":    strconv.FormatFloat(tp, 'f', -1, 64),
		}
		if _, err := c.placeOrder(ctx, tpParams); err != nil {
			return nil, fmt.Errorf("placing take-profit order: %w", err)
		}
	}

	return entry, nil
}

// ExecuteTWAP splits the quantity into equal market-order slices spaced
// evenly over the duration. Returns the volume-weighted aggregate fill.
func (c *Client) ExecuteTWAP(ctx context.Context, exchange, symbol string, side OrderSide, quantity float64, slices int, duration time.Duration) (*OrderResult, error) {
	if slices <= 0 {
		slices = 1
	}
	sliceQty := quantity / float64(slices)
	interval := duration / time.Duration(slices)

	c.log.Info().
		Str("symbol", symbol).
		Int("slices", slices).
		Dur("interval", interval).
		Float64("slice_qty", sliceQty).
		Msg("starting TWAP execution")

	var filledQty, notional float64
	for i := 0; i < slices; i++ {
		res, err := c.CreateMarketOrder(ctx, exchange, symbol, side, sliceQty)
		if err != nil {
			return nil, fmt.Errorf("TWAP slice %d/%d: %w", i+1, slices, err)
		}
		filledQty += res.Quantity
		notional += res.Quantity * res.Price

		if i < slices-1 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	avgPrice := 0.0
	if filledQty > 0 {
		avgPrice = notional / filledQty
	}

	return &OrderResult{
		OrderID:   uuid.New().String(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  filledQty,
		Price:     avgPrice,
		Status:    "FILLED",
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// UpdateStopLoss replaces the protective stop for an open position.
func (c *Client) UpdateStopLoss(ctx context.Context, exchange, symbol, positionID string, stopLoss float64) error {
	params := map[string]string{
		"symbol":    symbol,
		"type":      "STOP_LOSS_LIMIT",
		"stopPrice": strconv.FormatFloat(stopLoss, 'f', -1, 64),
		"price":     strconv.FormatFloat(stopLoss, 'f', -1, 64),
	}

	if _, err := c.placeOrder(ctx, params); err != nil {
		return fmt.Errorf("updating stop loss for %s: %w", positionID, err)
	}

	c.log.Info().Str("symbol", symbol).Str("position_id", positionID).Float64("stop_loss", stopLoss).Msg("stop loss updated")
	return nil
}

func (c *Client) placeOrder(ctx context.Context, params map[string]string) (*OrderResult, error) {
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	params["signature"] = c.sign(params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	endpoint := fmt.Sprintf("%s/api/v3/order", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = values.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("placing order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var raw struct {
		Symbol       string  `json:"symbol"`
		OrderID      int64   `json:"orderId"`
		TransactTime int64   `json:"transactTime"`
		Price        float64 `json:"price,string"`
		ExecutedQty  float64 `json:"executedQty,string"`
		Status       string  `json:"status"`
		Side         string  `json:"side"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}

	return &OrderResult{
		OrderID:   strconv.FormatInt(raw.OrderID, 10),
		Symbol:    raw.Symbol,
		Side:      OrderSide(raw.Side),
		Quantity:  raw.ExecutedQty,
		Price:     raw.Price,
		Status:    raw.Status,
		Timestamp: raw.TransactTime,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	return body, nil
}

// sign builds the HMAC-SHA256 request signature.
func (c *Client) sign(params map[string]string) string {
	query := ""
	for k, v := range params {
		if k != "signature" {
			if query != "" {
				query += "&"
			}
			query += k + "=" + v
		}
	}

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func toFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
