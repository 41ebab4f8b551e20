package scoring

import (
	"github.com/rs/zerolog"

	"github.com/kabuscan/kabuscan/pkg/formulas"
)

// minRiskHistory is the fewest closes a risk score needs before the
// scorer stops returning the neutral value.
const minRiskHistory = 20

// neutralRisk is assigned when an instrument lacks price history.
const neutralRisk = 0.5

// RiskScorer derives a risk-adjustment sub-score in [0, 1] from an
// instrument's recent closing prices. Higher means a better
// risk-adjusted profile.
type RiskScorer struct {
	// Lookback caps how many trailing closes enter the score; zero
	// uses all supplied history.
	Lookback int
	log      zerolog.Logger
}

// NewRiskScorer builds a scorer over the given trailing window.
func NewRiskScorer(lookback int, log zerolog.Logger) *RiskScorer {
	return &RiskScorer{
		Lookback: lookback,
		log:      log.With().Str("component", "risk_scorer").Logger(),
	}
}

// Score blends Sharpe, Sortino, drawdown, win-rate, and a volatility
// penalty into one sub-score. Instruments without enough history get
// the neutral 0.5 so they neither lead nor trail the ranking on risk
// grounds alone.
func (r *RiskScorer) Score(symbol string, closes []float64) float64 {
	if r.Lookback > 0 && len(closes) > r.Lookback {
		closes = closes[len(closes)-r.Lookback:]
	}
	if len(closes) < minRiskHistory {
		r.log.Debug().Str("symbol", symbol).Int("closes", len(closes)).Msg("Insufficient history, neutral risk score")
		return neutralRisk
	}

	returns := formulas.CalculateReturns(closes)

	sharpe := scaleRatio(formulas.CalculateSharpeRatio(returns, 0, 252), 4)
	sortino := scaleRatio(formulas.CalculateSortinoRatio(returns, 0, 0, 252), 6)

	drawdown := neutralRisk
	if dd := formulas.CalculateMaxDrawdown(closes); dd != nil {
		drawdown = clamp01(1 - 2*(*dd))
	}

	winRate := formulas.WinRate(returns)

	// Annualized volatility above 60% forfeits the whole stability term.
	stability := clamp01(1 - formulas.AnnualizedVolatility(returns)/0.6)

	score := 0.30*sharpe +
		0.20*sortino +
		0.20*drawdown +
		0.15*winRate +
		0.15*stability
	return clamp01(score)
}

// scaleRatio maps a risk-adjusted ratio onto [0, 1] with 0.5 at zero
// and saturation at +/- span.
func scaleRatio(ratio *float64, span float64) float64 {
	if ratio == nil {
		return neutralRisk
	}
	return clamp01(0.5 + *ratio/(2*span))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
