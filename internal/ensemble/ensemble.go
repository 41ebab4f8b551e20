// Package ensemble trains and serves the per-horizon model set. Each
// horizon trains independently; a failed horizon is recorded and
// excluded rather than failing the run, and only a fully failed
// ensemble is an error.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kabuscan/kabuscan/internal/dataset"
	"github.com/kabuscan/kabuscan/internal/model"
	"github.com/kabuscan/kabuscan/internal/validation"
)

// ErrEnsembleTraining indicates no horizon produced a usable model.
var ErrEnsembleTraining = errors.New("ensemble training failed")

// HorizonOutcome records how one horizon's training ended. Err is nil
// on success; Model is nil on failure.
type HorizonOutcome struct {
	Horizon int
	Model   *model.HorizonModel
	Err     error
}

// Config selects the horizons to train and how to validate them.
type Config struct {
	Horizons []int
	MinRows  int
	Window   validation.WindowConfig
	Metric   validation.Metric
}

// Ensemble holds the trained horizon models and the per-horizon
// training record.
type Ensemble struct {
	models   map[int]*model.HorizonModel
	outcomes []HorizonOutcome
	log      zerolog.Logger
}

// Train builds one model per configured horizon, concurrently. Horizons
// that lack data or fail hyperparameter selection are recorded in the
// outcomes and skipped. Returns ErrEnsembleTraining if every horizon
// failed, or the context error on cancellation.
func Train(ctx context.Context, frame *dataset.Frame, cfg Config, strategy model.Strategy, log zerolog.Logger) (*Ensemble, error) {
	if len(cfg.Horizons) == 0 {
		return nil, fmt.Errorf("%w: no horizons configured", ErrEnsembleTraining)
	}

	outcomes := make([]HorizonOutcome, len(cfg.Horizons))

	var g errgroup.Group
	g.SetLimit(len(cfg.Horizons))
	for i, horizon := range cfg.Horizons {
		i, horizon := i, horizon
		g.Go(func() error {
			outcomes[i] = trainHorizon(ctx, frame, cfg, strategy, horizon, log)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	models := make(map[int]*model.HorizonModel)
	for _, out := range outcomes {
		if out.Err != nil {
			log.Warn().Int("horizon", out.Horizon).Err(out.Err).Msg("Horizon excluded from ensemble")
			continue
		}
		models[out.Horizon] = out.Model
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: all %d horizons failed", ErrEnsembleTraining, len(cfg.Horizons))
	}

	log.Info().
		Int("trained", len(models)).
		Int("requested", len(cfg.Horizons)).
		Msg("Ensemble trained")

	return &Ensemble{models: models, outcomes: outcomes, log: log}, nil
}

func trainHorizon(ctx context.Context, frame *dataset.Frame, cfg Config, strategy model.Strategy, horizon int, log zerolog.Logger) HorizonOutcome {
	out := HorizonOutcome{Horizon: horizon}

	ds, err := frame.ForHorizon(horizon, cfg.MinRows)
	if err != nil {
		out.Err = err
		return out
	}

	v := validation.New(cfg.Window, cfg.Metric, log)
	m, err := model.Train(ctx, ds, strategy, v, log)
	if err != nil {
		out.Err = err
		return out
	}
	out.Model = m
	return out
}

// FromModels rebuilds an ensemble from already trained models, as when
// serving persisted snapshots.
func FromModels(models map[int]*model.HorizonModel, log zerolog.Logger) (*Ensemble, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no models", ErrEnsembleTraining)
	}
	outcomes := make([]HorizonOutcome, 0, len(models))
	for h, m := range models {
		outcomes = append(outcomes, HorizonOutcome{Horizon: h, Model: m})
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Horizon < outcomes[j].Horizon })
	return &Ensemble{models: models, outcomes: outcomes, log: log}, nil
}

// Horizons returns the trained horizons, ascending.
func (e *Ensemble) Horizons() []int {
	horizons := make([]int, 0, len(e.models))
	for h := range e.models {
		horizons = append(horizons, h)
	}
	sort.Ints(horizons)
	return horizons
}

// Outcomes returns the per-horizon training record in configuration
// order.
func (e *Ensemble) Outcomes() []HorizonOutcome {
	return e.outcomes
}

// Model returns the trained model for a horizon, if present.
func (e *Ensemble) Model(horizon int) (*model.HorizonModel, bool) {
	m, ok := e.models[horizon]
	return m, ok
}

// Predict returns one forecast per trained horizon for a feature
// vector. Failed horizons are simply absent from the result.
func (e *Ensemble) Predict(features []float64) map[int]float64 {
	preds := make(map[int]float64, len(e.models))
	for h, m := range e.models {
		preds[h] = m.Predict(features)
	}
	return preds
}
