package scoring

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/kabuscan/kabuscan/pkg/formulas"
)

// Fundamentals is the raw company data the fundamental sub-score is
// derived from. Nil fields mean the figure is unavailable and score
// neutrally.
type Fundamentals struct {
	ProfitMargin *float64 `json:"profit_margin,omitempty"`
	DebtToEquity *float64 `json:"debt_to_equity,omitempty"`
	CurrentRatio *float64 `json:"current_ratio,omitempty"`
}

// FundamentalScorer derives a fundamental sub-score in [0, 1] from
// company health figures and growth consistency. Financial strength
// carries 60%, consistency of long-run growth 40%.
type FundamentalScorer struct {
	log zerolog.Logger
}

// NewFundamentalScorer builds a scorer.
func NewFundamentalScorer(log zerolog.Logger) *FundamentalScorer {
	return &FundamentalScorer{log: log.With().Str("component", "fundamental_scorer").Logger()}
}

// Score blends financial strength with growth consistency. The closes
// series, when long enough, supplies the consistency term by comparing
// recent annualized growth against the full history.
func (f *FundamentalScorer) Score(symbol string, data Fundamentals, closes []float64) float64 {
	financial := financialStrength(data)
	consistency := growthConsistency(closes)

	score := financial*0.60 + consistency*0.40
	return clamp01(score)
}

// financialStrength scores profit margin (40%), debt/equity (30%), and
// current ratio (30%). Missing figures take mid-range defaults.
func financialStrength(data Fundamentals) float64 {
	marginScore := 0.5
	if data.ProfitMargin != nil {
		margin := *data.ProfitMargin
		if margin >= 0 {
			marginScore = math.Min(1.0, 0.5+margin*2.5)
		} else {
			marginScore = math.Max(0, 0.5+margin*2)
		}
	}

	// Debt/equity capped at 200, lower is better
	de := 50.0
	if data.DebtToEquity != nil {
		de = math.Min(200, *data.DebtToEquity)
	}
	deScore := math.Max(0, 1-de/200)

	// Current ratio capped at 3, higher is better
	cr := 1.0
	if data.CurrentRatio != nil {
		cr = math.Min(3, *data.CurrentRatio)
	}
	crScore := math.Min(1.0, cr/2)

	return marginScore*0.40 + deScore*0.30 + crScore*0.30
}

// growthConsistency compares one-year growth against the full-history
// rate; steady compounders score high, erratic growers low.
func growthConsistency(closes []float64) float64 {
	recentCAGR := formulas.CalculateCAGR(closes, 252, 252)
	if recentCAGR == nil {
		return 0.6
	}
	fullCAGR := formulas.CalculateCAGR(closes, len(closes), 252)
	if fullCAGR == nil || len(closes) <= 252 {
		return 0.6
	}

	diff := math.Abs(*recentCAGR - *fullCAGR)
	switch {
	case diff < 0.02:
		return 1.0
	case diff < 0.05:
		return 0.8
	default:
		return math.Max(0.4, 1.0-diff*4)
	}
}
