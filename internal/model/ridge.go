// Package model implements the per-horizon regressor and its
// hyperparameter selection strategies.
//
// The regressor is an L2-regularized linear model fit by weighted normal
// equations. Features are standardized per fit, and an optional recency
// half-life downweights older rows so the model tracks the current
// regime. Hyperparameters are chosen by walk-forward validation; the
// deployed model is always a final fit on the full dataset with the
// winning configuration.
package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/kabuscan/kabuscan/internal/validation"
)

// ErrModelTraining indicates every hyperparameter trial failed.
var ErrModelTraining = errors.New("model training failed")

// Hyperparams configures one ridge fit.
type Hyperparams struct {
	// Lambda is the L2 penalty applied to standardized coefficients.
	Lambda float64 `json:"lambda" yaml:"lambda" msgpack:"lambda"`
	// HalfLife is the recency half-life in rows; 0 disables weighting.
	HalfLife int `json:"half_life" yaml:"half_life" msgpack:"half_life"`
}

// Ridge is a fitted regressor. Instances are immutable after fitting
// and safe for concurrent prediction.
type Ridge struct {
	params    Hyperparams
	coeffs    []float64 // Per standardized feature
	intercept float64
	means     []float64
	scales    []float64
}

// FitRidge fits a ridge regression on the given rows. Rows must be in
// chronological order (oldest first) for recency weighting to be
// meaningful. Fails on degenerate input or a numerically unstable solve.
func FitRidge(x [][]float64, y []float64, params Hyperparams) (*Ridge, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("ridge: %d rows, %d labels", n, len(y))
	}
	p := len(x[0])
	if p == 0 {
		return nil, fmt.Errorf("ridge: zero-width feature matrix")
	}
	if params.Lambda < 0 {
		return nil, fmt.Errorf("ridge: negative lambda %v", params.Lambda)
	}
	if params.HalfLife < 0 {
		return nil, fmt.Errorf("ridge: negative half-life %d", params.HalfLife)
	}

	weights := recencyWeights(n, params.HalfLife)

	var weightSum float64
	for _, w := range weights {
		weightSum += w
	}

	// Weighted feature means and label mean
	means := make([]float64, p)
	for i := 0; i < n; i++ {
		if len(x[i]) != p {
			return nil, fmt.Errorf("ridge: row %d width %d, want %d", i, len(x[i]), p)
		}
		for j := 0; j < p; j++ {
			means[j] += weights[i] * x[i][j]
		}
	}
	for j := 0; j < p; j++ {
		means[j] /= weightSum
	}

	yMean := 0.0
	for i := 0; i < n; i++ {
		yMean += weights[i] * y[i]
	}
	yMean /= weightSum

	// Weighted standard deviations; constant columns keep scale 1 and
	// contribute nothing after centering
	scales := make([]float64, p)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			d := x[i][j] - means[j]
			scales[j] += weights[i] * d * d
		}
	}
	for j := 0; j < p; j++ {
		scales[j] = math.Sqrt(scales[j] / weightSum)
		if scales[j] < 1e-12 {
			scales[j] = 1
		}
	}

	// Normal equations on standardized, centered data:
	// (Z'WZ + lambda*I) beta = Z'W(y - yMean)
	gram := mat.NewSymDense(p, nil)
	rhs := make([]float64, p)
	z := make([]float64, p)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			z[j] = (x[i][j] - means[j]) / scales[j]
		}
		yc := y[i] - yMean
		for j := 0; j < p; j++ {
			wz := weights[i] * z[j]
			rhs[j] += wz * yc
			for k := j; k < p; k++ {
				gram.SetSym(j, k, gram.At(j, k)+wz*z[k])
			}
		}
	}
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+params.Lambda)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, fmt.Errorf("ridge: gram matrix not positive definite (lambda=%v)", params.Lambda)
	}

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, mat.NewVecDense(p, rhs)); err != nil {
		return nil, fmt.Errorf("ridge: solve failed: %w", err)
	}

	coeffs := make([]float64, p)
	for j := 0; j < p; j++ {
		coeffs[j] = beta.AtVec(j)
		if math.IsNaN(coeffs[j]) || math.IsInf(coeffs[j], 0) {
			return nil, fmt.Errorf("ridge: non-finite coefficient at %d", j)
		}
	}

	return &Ridge{
		params:    params,
		coeffs:    coeffs,
		intercept: yMean,
		means:     means,
		scales:    scales,
	}, nil
}

// recencyWeights returns exponential-decay row weights. The newest row
// (last index) has weight 1; a row halfLife rows older has weight 0.5.
func recencyWeights(n, halfLife int) []float64 {
	weights := make([]float64, n)
	if halfLife == 0 {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	for i := 0; i < n; i++ {
		age := float64(n - 1 - i)
		weights[i] = math.Pow(0.5, age/float64(halfLife))
	}
	return weights
}

// Predict returns the point forecast for one feature vector. Extra
// trailing features are ignored; a short vector predicts as if the
// missing features sat at their training means.
func (r *Ridge) Predict(features []float64) float64 {
	sum := r.intercept
	for j := 0; j < len(r.coeffs) && j < len(features); j++ {
		sum += r.coeffs[j] * (features[j] - r.means[j]) / r.scales[j]
	}
	return sum
}

// Params returns the hyperparameters the model was fit with.
func (r *Ridge) Params() Hyperparams {
	return r.params
}

// fitter adapts a hyperparameter configuration to validation.Fitter,
// producing a fresh fit per validation window.
type fitter struct {
	params Hyperparams
}

// Fit implements validation.Fitter.
func (f fitter) Fit(x [][]float64, y []float64) (validation.Predictor, error) {
	return FitRidge(x, y, f.params)
}
