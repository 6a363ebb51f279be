package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"smc-trading-engine/internal/market"
)

// KlineHandler receives every kline update. closed is true once the candle
// is final.
type KlineHandler func(symbol, timeframe string, candle market.Candle, closed bool)

// KlineStream consumes a combined websocket kline stream and feeds parsed
// candles to a handler. The connection is re-dialed after any read failure.
type KlineStream struct {
	baseURL string
	streams []string
	handler KlineHandler
	log     zerolog.Logger
}

// NewKlineStream prepares a stream over the given symbol/timeframe pairs.
// pairs maps symbol to the timeframes to subscribe, e.g. BTCUSDT -> [1m 1h].
func NewKlineStream(baseURL string, pairs map[string][]string, handler KlineHandler, logger zerolog.Logger) *KlineStream {
	var streams []string
	for symbol, timeframes := range pairs {
		for _, tf := range timeframes {
			streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), tf))
		}
	}

	return &KlineStream{
		baseURL: baseURL,
		streams: streams,
		handler: handler,
		log:     logger.With().Str("component", "kline_stream").Logger(),
	}
}

// Run connects and consumes updates until the context is cancelled,
// reconnecting after connection loss.
func (s *KlineStream) Run(ctx context.Context) {
	if len(s.streams) == 0 {
		s.log.Warn().Msg("no kline streams configured")
		return
	}

	url := fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(s.streams, "/"))

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			s.log.Error().Err(err).Msg("kline stream dial failed, retrying in 3s")
			if !sleepCtx(ctx, 3*time.Second) {
				return
			}
			continue
		}

		s.log.Info().Int("streams", len(s.streams)).Msg("kline stream connected")
		s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Msg("kline stream connection lost, reconnecting in 3s")
		if !sleepCtx(ctx, 3*time.Second) {
			return
		}
	}
}

type combinedKlineEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			OpenTime  int64  `json:"t"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			IsClosed  bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func (s *KlineStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info().Msg("kline stream closed")
			}
			return
		}

		var event combinedKlineEvent
		if err := json.Unmarshal(message, &event); err != nil {
			s.log.Debug().Err(err).Msg("discarding unparseable stream message")
			continue
		}
		if event.Data.EventType != "kline" {
			continue
		}

		k := event.Data.Kline
		candle := market.Candle{
			Timestamp: k.OpenTime,
			Open:      parsePrice(k.Open),
			High:      parsePrice(k.High),
			Low:       parsePrice(k.Low),
			Close:     parsePrice(k.Close),
			Volume:    parsePrice(k.Volume),
		}

		s.handler(event.Data.Symbol, k.Interval, candle, k.IsClosed)
	}
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
