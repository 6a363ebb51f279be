package altdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-engine/internal/smc"
)

// SentimentPoint is one social or news sentiment reading in [-1, 1].
type SentimentPoint struct {
	Source    string    `json:"source"`
	Score     float64   `json:"score"`
	Volume    int       `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// OnChainPoint is one on-chain metric sample.
type OnChainPoint struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Derivatives aggregates futures market readings for a symbol.
type Derivatives struct {
	Symbol           string    `json:"symbol"`
	FundingRate      float64   `json:"funding_rate"`
	OpenInterest     float64   `json:"open_interest"`
	LongShortRatio   float64   `json:"long_short_ratio"`
	LiquidatedLongs  float64   `json:"liquidated_longs"`
	LiquidatedShorts float64   `json:"liquidated_shorts"`
	Timestamp        time.Time `json:"timestamp"`
}

// Metrics bundles the alternative data for one symbol.
type Metrics struct {
	Sentiment   []SentimentPoint `json:"sentiment"`
	OnChain     []OnChainPoint   `json:"on_chain"`
	Derivatives Derivatives      `json:"derivatives"`
}

const (
	sentimentCutoff = 0.3
	fundingCutoff   = 0.0005
	factorDelta     = 0.1
)

// SentimentScore averages all sentiment readings.
func (m Metrics) SentimentScore() float64 {
	if len(m.Sentiment) == 0 {
		return 0
	}
	var sum float64
	for _, p := range m.Sentiment {
		sum += p.Score
	}
	return sum / float64(len(m.Sentiment))
}

// Adjustment returns the confidence delta these metrics imply for a signal
// direction. Each aligned factor contributes +0.1, each opposed one -0.1.
// Sentiment counts when its average magnitude passes 0.3; funding counts
// when the rate is stretched, with a positive rate (crowded longs) read as
// a contrarian signal against buys.
func (m Metrics) Adjustment(signalType smc.SignalType) float64 {
	direction := 1.0
	if signalType == smc.SignalSell {
		direction = -1
	}

	var delta float64

	if score := m.SentimentScore(); math.Abs(score) >= sentimentCutoff {
		if score*direction > 0 {
			delta += factorDelta
		} else {
			delta -= factorDelta
		}
	}

	if rate := m.Derivatives.FundingRate; math.Abs(rate) >= fundingCutoff {
		if rate*direction > 0 {
			delta -= factorDelta
		} else {
			delta += factorDelta
		}
	}

	return delta
}

// Provider serves alternative data metrics.
type Provider interface {
	Metrics(ctx context.Context, symbol string) (Metrics, error)
}

// Service simulates sentiment and on-chain feeds. Derivatives readings use
// fixed neutral values until a real futures data source is wired in.
type Service struct {
	mu     sync.Mutex
	rng    *rand.Rand
	pinned map[string]Metrics
	log    zerolog.Logger
}

// NewService creates a simulated alternative data provider.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		pinned: make(map[string]Metrics),
		log:    logger.With().Str("component", "altdata").Logger(),
	}
}

// Pin fixes the metrics returned for a symbol. Used by tests and paper
// trading scenarios.
func (s *Service) Pin(symbol string, metrics Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[symbol] = metrics
}

// Metrics returns sentiment, on-chain and derivatives data for a symbol.
func (s *Service) Metrics(ctx context.Context, symbol string) (Metrics, error) {
	if err := ctx.Err(); err != nil {
		return Metrics{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.pinned[symbol]; ok {
		return m, nil
	}

	now := time.Now()
	base := s.rng.Float64()*2 - 1

	return Metrics{
		Sentiment: []SentimentPoint{
			{Source: "twitter", Score: round2(base), Volume: s.rng.Intn(5000), Timestamp: now},
			{Source: "news", Score: round2(base*0.8 + (s.rng.Float64()*0.4 - 0.2)), Volume: s.rng.Intn(500), Timestamp: now},
		},
		OnChain: []OnChainPoint{
			{Metric: "mvrv", Value: round2(1.5 + s.rng.Float64()*0.5), Timestamp: now},
			{Metric: "exchange_inflow", Value: round2(s.rng.Float64() * 1000), Timestamp: now},
		},
		Derivatives: Derivatives{
			Symbol:         symbol,
			FundingRate:    0.0001,
			OpenInterest:   50_000_000,
			LongShortRatio: 1.1,
			Timestamp:      now,
		},
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
