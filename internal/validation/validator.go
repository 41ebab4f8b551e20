package validation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kabuscan/kabuscan/internal/dataset"
	"github.com/kabuscan/kabuscan/pkg/formulas"
)

// Predictor produces a point forecast from one feature vector.
type Predictor interface {
	Predict(features []float64) float64
}

// Fitter fits a fresh model instance on a training slice. Each window
// gets its own instance; fitters must not carry state between calls.
type Fitter interface {
	Fit(x [][]float64, y []float64) (Predictor, error)
}

// Result aggregates per-window metric values. Mean is the objective the
// hyperparameter search minimizes; Std reports dispersion across
// windows.
type Result struct {
	PerWindow []float64 `json:"per_window"`
	Mean      float64   `json:"mean"`
	Std       float64   `json:"std"`
}

// Validator runs walk-forward validation for one horizon dataset.
type Validator struct {
	cfg    WindowConfig
	metric Metric
	log    zerolog.Logger
}

// New creates a walk-forward validator.
func New(cfg WindowConfig, metric Metric, log zerolog.Logger) *Validator {
	return &Validator{
		cfg:    cfg,
		metric: metric,
		log:    log.With().Str("component", "walkforward").Logger(),
	}
}

// Run fits one model instance per window on the training slice and
// scores it on the following validation slice. An individual fit or
// score failure aborts the run; the caller (hyperparameter search)
// decides whether to absorb it. Respects context cancellation between
// windows.
func (v *Validator) Run(ctx context.Context, ds *dataset.HorizonDataset, fitter Fitter) (*Result, error) {
	windows, err := Windows(ds, v.cfg)
	if err != nil {
		return nil, err
	}

	perWindow := make([]float64, 0, len(windows))
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trainX, trainY, _ := ds.Slice(w.TrainStart, w.TrainEnd)
		valX, valY, _ := ds.Slice(w.ValStart, w.ValEnd)

		model, err := fitter.Fit(trainX, trainY)
		if err != nil {
			return nil, fmt.Errorf("window %d fit: %w", i, err)
		}

		predicted := make([]float64, len(valX))
		for j := range valX {
			predicted[j] = model.Predict(valX[j])
		}

		score, err := Score(v.metric, predicted, valY)
		if err != nil {
			return nil, fmt.Errorf("window %d score: %w", i, err)
		}
		perWindow = append(perWindow, score)

		v.log.Debug().
			Int("window", i).
			Str("train_from", w.TrainFrom.Format("2006-01-02")).
			Str("val_to", w.ValTo.Format("2006-01-02")).
			Float64("score", score).
			Msg("Window scored")
	}

	return &Result{
		PerWindow: perWindow,
		Mean:      formulas.Mean(perWindow),
		Std:       formulas.StdDev(perWindow),
	}, nil
}

// Metric returns the configured error metric.
func (v *Validator) Metric() Metric {
	return v.metric
}

// Config returns the configured window sizing.
func (v *Validator) Config() WindowConfig {
	return v.cfg
}
