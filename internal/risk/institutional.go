package risk

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// StressScenario is a fixed market shock applied to the open book.
type StressScenario struct {
	Name             string  `json:"name"`
	PriceShock       float64 `json:"price_shock"`      // -0.10 means a 10% drop
	LiquidityShock   float64 `json:"liquidity_shock"`  // remaining liquidity fraction
	CorrelationSpike bool    `json:"correlation_spike"`
}

// StressResult is the projected PnL of one scenario.
type StressResult struct {
	Scenario      string  `json:"scenario"`
	ProjectedLoss float64 `json:"projected_loss"`
}

// Report aggregates the institutional risk measures for the API surface.
type Report struct {
	CurrentVaR        float64        `json:"current_var"`
	CVaR              float64        `json:"cvar"`
	StressTestResults []StressResult `json:"stress_test_results"`
	RiskExposure      float64        `json:"risk_exposure"`
}

// stressScenarios are the fixed crypto shocks every stress run applies.
var stressScenarios = []StressScenario{
	{Name: "Flash Crash (-10%)", PriceShock: -0.10, LiquidityShock: 0.5, CorrelationSpike: true},
	{Name: "Crypto Winter (-30%)", PriceShock: -0.30, LiquidityShock: 0.2, CorrelationSpike: true},
	{Name: "Regulatory News (-5%)", PriceShock: -0.05, LiquidityShock: 0.8, CorrelationSpike: false},
	{Name: "Stablecoin Depeg", PriceShock: -0.15, LiquidityShock: 0.1, CorrelationSpike: true},
}

// InstitutionalManager extends Manager with portfolio-level measures:
// historical-simulation VaR, expected shortfall and stress projections.
type InstitutionalManager struct {
	*Manager
}

// NewInstitutionalManager creates the extended risk manager.
func NewInstitutionalManager(config Config, initialBalance float64, logger zerolog.Logger) *InstitutionalManager {
	return &InstitutionalManager{
		Manager: NewManager(config, initialBalance, logger),
	}
}

// CalculateVaR computes historical-simulation Value at Risk over the given
// daily returns. Requires at least 100 observations and an open book,
// otherwise returns 0.
func (im *InstitutionalManager) CalculateVaR(positions []*Position, dailyReturns []float64, confidence float64) float64 {
	if len(positions) == 0 || len(dailyReturns) < 100 {
		return 0
	}

	portfolioValue := portfolioNotional(positions)
	sorted := sortedCopy(dailyReturns)

	index := int(math.Floor((1 - confidence) * float64(len(sorted))))
	varReturn := sorted[index]

	return math.Abs(portfolioValue * varReturn)
}

// CalculateCVaR computes the expected shortfall: the mean of returns worse
// than the VaR percentile, scaled by portfolio notional.
func (im *InstitutionalManager) CalculateCVaR(positions []*Position, dailyReturns []float64, confidence float64) float64 {
	if len(positions) == 0 || len(dailyReturns) < 100 {
		return 0
	}

	portfolioValue := portfolioNotional(positions)
	sorted := sortedCopy(dailyReturns)

	index := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if index == 0 {
		return 0
	}

	var sum float64
	for _, r := range sorted[:index] {
		sum += r
	}
	avgTailReturn := sum / float64(index)

	return math.Abs(portfolioValue * avgTailReturn)
}

// RunStressTests applies each fixed scenario to every position's notional
// and sums the projected PnL per scenario.
func (im *InstitutionalManager) RunStressTests(positions []*Position) []StressResult {
	results := make([]StressResult, 0, len(stressScenarios))

	for _, scenario := range stressScenarios {
		var total float64
		for _, p := range positions {
			effectiveExit := p.EntryPrice * (1 + scenario.PriceShock)
			if p.Side == SideLong {
				total += (effectiveExit - p.EntryPrice) * p.Quantity
			} else {
				total += (p.EntryPrice - effectiveExit) * p.Quantity
			}
		}
		results = append(results, StressResult{Scenario: scenario.Name, ProjectedLoss: total})
	}

	return results
}

// RiskReport assembles the full institutional view over the registered book.
func (im *InstitutionalManager) RiskReport(dailyReturns []float64, confidence float64) Report {
	positions := im.OpenPositions()

	return Report{
		CurrentVaR:        im.CalculateVaR(positions, dailyReturns, confidence),
		CVaR:              im.CalculateCVaR(positions, dailyReturns, confidence),
		StressTestResults: im.RunStressTests(positions),
		RiskExposure:      im.RiskStats().RiskExposure,
	}
}

func portfolioNotional(positions []*Position) float64 {
	var total float64
	for _, p := range positions {
		total += p.Notional()
	}
	return total
}

func sortedCopy(returns []float64) []float64 {
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	return sorted
}
