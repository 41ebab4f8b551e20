// Package scoring turns horizon predictions and sub-scores into ranked
// instrument shortlists.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrIncompleteScoreInput indicates an instrument with no horizon
// predictions at all; a predicted-return sub-score cannot be formed.
var ErrIncompleteScoreInput = errors.New("incomplete score input")

// BlendWeights splits the final score between the three sub-scores.
// Must sum to 1.
type BlendWeights struct {
	Prediction  float64 `yaml:"prediction" json:"prediction"`
	Fundamental float64 `yaml:"fundamental" json:"fundamental"`
	Risk        float64 `yaml:"risk" json:"risk"`
}

// Components is the score breakdown for one instrument.
type Components struct {
	Symbol      string  `json:"symbol"`
	Prediction  float64 `json:"prediction"`
	Fundamental float64 `json:"fundamental"`
	Risk        float64 `json:"risk"`
	Final       float64 `json:"final"`
	// Horizons lists the horizons that contributed to Prediction.
	Horizons []int `json:"horizons"`
}

// Composite blends the predicted-return, fundamental, and risk
// sub-scores for one instrument at a time. Sub-scores arrive
// pre-normalized to a comparable scale; the scorer never rescales them.
type Composite struct {
	horizonWeights map[int]float64
	blend          BlendWeights
}

// NewComposite builds a scorer. Horizon weights and blend weights must
// each sum to 1.
func NewComposite(horizonWeights map[int]float64, blend BlendWeights) (*Composite, error) {
	if len(horizonWeights) == 0 {
		return nil, fmt.Errorf("no horizon weights configured")
	}
	var sum float64
	for h, w := range horizonWeights {
		if w < 0 {
			return nil, fmt.Errorf("horizon %d has negative weight %v", h, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("horizon weights sum to %v, want 1", sum)
	}
	if blendSum := blend.Prediction + blend.Fundamental + blend.Risk; math.Abs(blendSum-1) > 1e-9 {
		return nil, fmt.Errorf("blend weights sum to %v, want 1", blendSum)
	}
	weights := make(map[int]float64, len(horizonWeights))
	for h, w := range horizonWeights {
		weights[h] = w
	}
	return &Composite{horizonWeights: weights, blend: blend}, nil
}

// PredictionScore combines the available horizon predictions with the
// configured weights renormalized over the horizons present. Horizons
// without a configured weight are ignored.
func (c *Composite) PredictionScore(predictions map[int]float64) (float64, []int, error) {
	var weightSum float64
	horizons := make([]int, 0, len(predictions))
	for h := range predictions {
		w, ok := c.horizonWeights[h]
		if !ok || w == 0 {
			continue
		}
		weightSum += w
		horizons = append(horizons, h)
	}
	if weightSum == 0 {
		return 0, nil, fmt.Errorf("%w: no weighted horizon predictions", ErrIncompleteScoreInput)
	}

	// Accumulate in horizon order; float addition is order-sensitive and
	// map iteration would make identical inputs produce different bits.
	sort.Ints(horizons)
	var score float64
	for _, h := range horizons {
		score += (c.horizonWeights[h] / weightSum) * predictions[h]
	}
	return score, horizons, nil
}

// Score computes the full breakdown for one instrument.
func (c *Composite) Score(symbol string, predictions map[int]float64, fundamental, risk float64) (Components, error) {
	prediction, horizons, err := c.PredictionScore(predictions)
	if err != nil {
		return Components{}, fmt.Errorf("score %s: %w", symbol, err)
	}
	return Components{
		Symbol:      symbol,
		Prediction:  prediction,
		Fundamental: fundamental,
		Risk:        risk,
		Final:       c.blend.Prediction*prediction + c.blend.Fundamental*fundamental + c.blend.Risk*risk,
		Horizons:    horizons,
	}, nil
}
