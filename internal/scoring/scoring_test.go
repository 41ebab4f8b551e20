package scoring

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultHorizonWeights = map[int]float64{1: 0.30, 5: 0.30, 20: 0.25, 60: 0.15}

func defaultBlend() BlendWeights {
	return BlendWeights{Prediction: 0.50, Fundamental: 0.25, Risk: 0.25}
}

func TestNewCompositeRejectsBadWeights(t *testing.T) {
	_, err := NewComposite(map[int]float64{1: 0.5, 5: 0.4}, defaultBlend())
	assert.Error(t, err)

	_, err = NewComposite(defaultHorizonWeights, BlendWeights{Prediction: 0.6, Fundamental: 0.25, Risk: 0.25})
	assert.Error(t, err)

	_, err = NewComposite(nil, defaultBlend())
	assert.Error(t, err)
}

func TestPredictionScoreRenormalizes(t *testing.T) {
	c, err := NewComposite(defaultHorizonWeights, defaultBlend())
	require.NoError(t, err)

	// Only two horizons present: 0.30 and 0.25 renormalize to
	// 0.545454... and 0.454545...
	score, horizons, err := c.PredictionScore(map[int]float64{5: 0.10, 20: 0.02})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 20}, horizons)
	want := (0.30*0.10 + 0.25*0.02) / 0.55
	assert.InDelta(t, want, score, 1e-12)
}

func TestPredictionScoreSingleHorizon(t *testing.T) {
	c, err := NewComposite(defaultHorizonWeights, defaultBlend())
	require.NoError(t, err)

	// One surviving horizon carries full weight.
	score, horizons, err := c.PredictionScore(map[int]float64{60: 0.07})
	require.NoError(t, err)
	assert.Equal(t, []int{60}, horizons)
	assert.InDelta(t, 0.07, score, 1e-12)
}

func TestPredictionScoreIgnoresUnknownHorizons(t *testing.T) {
	c, err := NewComposite(defaultHorizonWeights, defaultBlend())
	require.NoError(t, err)

	score, horizons, err := c.PredictionScore(map[int]float64{5: 0.10, 7: 99})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, horizons)
	assert.InDelta(t, 0.10, score, 1e-12)
}

func TestPredictionScoreIsBitStable(t *testing.T) {
	c, err := NewComposite(defaultHorizonWeights, defaultBlend())
	require.NoError(t, err)

	predictions := map[int]float64{1: 0.013, 5: 0.047, 20: -0.008, 60: 0.021}

	first, _, err := c.PredictionScore(predictions)
	require.NoError(t, err)

	// Identical inputs must produce identical bits on every call; the
	// accumulation order must not depend on map iteration.
	for i := 0; i < 1000; i++ {
		score, _, err := c.PredictionScore(predictions)
		require.NoError(t, err)
		require.Equal(t, math.Float64bits(first), math.Float64bits(score), "call %d diverged", i)
	}
}

func TestPredictionScoreEmptyVector(t *testing.T) {
	c, err := NewComposite(defaultHorizonWeights, defaultBlend())
	require.NoError(t, err)

	_, _, err = c.PredictionScore(nil)
	assert.ErrorIs(t, err, ErrIncompleteScoreInput)

	_, err = c.Score("7203", nil, 0.5, 0.5)
	assert.ErrorIs(t, err, ErrIncompleteScoreInput)
}

func TestScoreBlendScenario(t *testing.T) {
	// Three instruments, one 5-day horizon, default blend.
	c, err := NewComposite(map[int]float64{5: 1.0}, defaultBlend())
	require.NoError(t, err)

	type input struct {
		symbol            string
		predicted         float64
		fundamental, risk float64
	}
	inputs := []input{
		{"6758", 0.9, 0.8, 0.6},
		{"7203", 0.4, 0.5, 0.6},
		{"9984", 0.1, 0.2, 0.6},
	}
	wantFinals := []float64{0.8, 0.475, 0.25}

	var components []Components
	for i, in := range inputs {
		comp, err := c.Score(in.symbol, map[int]float64{5: in.predicted}, in.fundamental, in.risk)
		require.NoError(t, err)
		assert.InDelta(t, wantFinals[i], comp.Final, 1e-12)
		components = append(components, comp)
	}

	ranked := Rank(components, 0)
	require.Len(t, ranked, 3)
	assert.Equal(t, "6758", ranked[0].Symbol)
	assert.Equal(t, "7203", ranked[1].Symbol)
	assert.Equal(t, "9984", ranked[2].Symbol)
}

func TestRankTieBreakAndDensePositions(t *testing.T) {
	components := []Components{
		{Symbol: "9984", Final: 0.7},
		{Symbol: "6758", Final: 0.7},
		{Symbol: "7203", Final: 0.9},
	}

	ranked := Rank(components, 0)
	require.Len(t, ranked, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{ranked[0].Rank, ranked[1].Rank, ranked[2].Rank})
	assert.Equal(t, "7203", ranked[0].Symbol)
	// Equal finals break by symbol ascending.
	assert.Equal(t, "6758", ranked[1].Symbol)
	assert.Equal(t, "9984", ranked[2].Symbol)
}

func TestRankTopN(t *testing.T) {
	components := []Components{
		{Symbol: "a", Final: 0.1},
		{Symbol: "b", Final: 0.3},
		{Symbol: "c", Final: 0.2},
	}

	ranked := Rank(components, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].Symbol)
	assert.Equal(t, "c", ranked[1].Symbol)

	assert.Len(t, Rank(components, 10), 3)
	assert.Len(t, Rank(nil, 5), 0)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	components := []Components{
		{Symbol: "a", Final: 0.1},
		{Symbol: "b", Final: 0.3},
	}
	Rank(components, 0)
	assert.Equal(t, "a", components[0].Symbol)
}

func TestRiskScorerNeutralOnShortHistory(t *testing.T) {
	r := NewRiskScorer(60, zerolog.Nop())
	assert.Equal(t, 0.5, r.Score("7203", []float64{100, 101, 102}))
	assert.Equal(t, 0.5, r.Score("7203", nil))
}

func TestRiskScorerPrefersSteadyGains(t *testing.T) {
	r := NewRiskScorer(0, zerolog.Nop())

	steady := make([]float64, 120)
	choppy := make([]float64, 120)
	steady[0], choppy[0] = 100, 100
	for i := 1; i < 120; i++ {
		steady[i] = steady[i-1] * 1.001
		swing := 0.05
		if i%2 == 0 {
			swing = -0.048
		}
		choppy[i] = choppy[i-1] * (1 + swing)
	}

	steadyScore := r.Score("steady", steady)
	choppyScore := r.Score("choppy", choppy)
	assert.Greater(t, steadyScore, choppyScore)
	assert.GreaterOrEqual(t, steadyScore, 0.0)
	assert.LessOrEqual(t, steadyScore, 1.0)
}

func floatPtr(v float64) *float64 { return &v }

func TestFundamentalScorerStrongVersusWeak(t *testing.T) {
	f := NewFundamentalScorer(zerolog.Nop())

	strong := Fundamentals{
		ProfitMargin: floatPtr(0.25),
		DebtToEquity: floatPtr(10),
		CurrentRatio: floatPtr(2.5),
	}
	weak := Fundamentals{
		ProfitMargin: floatPtr(-0.15),
		DebtToEquity: floatPtr(180),
		CurrentRatio: floatPtr(0.4),
	}

	strongScore := f.Score("6758", strong, nil)
	weakScore := f.Score("9984", weak, nil)
	assert.Greater(t, strongScore, weakScore)
	assert.GreaterOrEqual(t, weakScore, 0.0)
	assert.LessOrEqual(t, strongScore, 1.0)
}

func TestFundamentalScorerMissingDataIsNeutral(t *testing.T) {
	f := NewFundamentalScorer(zerolog.Nop())

	// All defaults: margin 0.5, D/E 50 -> 0.75, CR 1 -> 0.5,
	// consistency 0.6 without history.
	want := (0.5*0.40+0.75*0.30+0.5*0.30)*0.60 + 0.6*0.40
	assert.InDelta(t, want, f.Score("7203", Fundamentals{}, nil), 1e-12)
}

func TestFundamentalScorerRewardsSteadyGrowth(t *testing.T) {
	f := NewFundamentalScorer(zerolog.Nop())
	data := Fundamentals{ProfitMargin: floatPtr(0.1)}

	steady := make([]float64, 600)
	steady[0] = 100
	for i := 1; i < 600; i++ {
		steady[i] = steady[i-1] * 1.0004
	}

	erratic := make([]float64, 600)
	erratic[0] = 100
	for i := 1; i < 600; i++ {
		// Flat history, then a one-year melt-up
		growth := 1.0
		if i >= 348 {
			growth = 1.004
		}
		erratic[i] = erratic[i-1] * growth
	}

	assert.Greater(t, f.Score("a", data, steady), f.Score("b", data, erratic))
}

func TestRiskScorerLookbackWindow(t *testing.T) {
	// A crash outside the lookback must not affect the score.
	prices := make([]float64, 200)
	prices[0] = 100
	for i := 1; i < 200; i++ {
		if i == 50 {
			prices[i] = prices[i-1] * 0.5
			continue
		}
		prices[i] = prices[i-1] * 1.0005
	}

	windowed := NewRiskScorer(60, zerolog.Nop()).Score("7203", prices)
	full := NewRiskScorer(0, zerolog.Nop()).Score("7203", prices)
	assert.Greater(t, windowed, full)
	assert.False(t, math.IsNaN(windowed))
}
