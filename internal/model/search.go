package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kabuscan/kabuscan/internal/dataset"
	"github.com/kabuscan/kabuscan/internal/validation"
)

// Strategy selects the hyperparameters for one horizon. Implementations
// report the aggregate walk-forward result backing the selection.
type Strategy interface {
	Name() string
	Select(ctx context.Context, ds *dataset.HorizonDataset, v *validation.Validator) (Hyperparams, *validation.Result, error)
}

// FixedConfig skips the search and validates a single fixed
// configuration. The fast path for development runs, still producing an
// honest validation record.
type FixedConfig struct {
	Params Hyperparams
}

// Name implements Strategy.
func (f FixedConfig) Name() string { return "fixed" }

// Select implements Strategy.
func (f FixedConfig) Select(ctx context.Context, ds *dataset.HorizonDataset, v *validation.Validator) (Hyperparams, *validation.Result, error) {
	result, err := v.Run(ctx, ds, fitter{params: f.Params})
	if err != nil {
		// History shortage and cancellation are not training failures
		if errors.Is(err, validation.ErrInsufficientHistory) || ctx.Err() != nil {
			return Hyperparams{}, nil, err
		}
		return Hyperparams{}, nil, fmt.Errorf("%w: fixed config for horizon %d: %v", ErrModelTraining, ds.Horizon, err)
	}
	return f.Params, result, nil
}

// SearchSpace bounds a random hyperparameter search.
type SearchSpace struct {
	// LambdaMin and LambdaMax bound the log-uniform penalty draw.
	LambdaMin float64
	LambdaMax float64
	// HalfLives are the candidate recency half-lives, drawn uniformly.
	HalfLives []int
	// Trials caps the number of configurations evaluated.
	Trials int
	// Timeout caps the wall-clock spend; zero means no limit.
	Timeout time.Duration
	// Workers bounds concurrent trial evaluation.
	Workers int
	// Seed makes the trial sequence reproducible.
	Seed int64
}

// RandomSearch evaluates randomly drawn configurations under trial and
// wall-clock budgets. The trial sequence is deterministic per horizon
// and seed, and tie-breaks favor the earliest trial, so repeated runs on
// the same dataset select the same configuration regardless of worker
// scheduling.
type RandomSearch struct {
	Space SearchSpace
	Log   zerolog.Logger
}

// Name implements Strategy.
func (s RandomSearch) Name() string { return "random" }

type trialOutcome struct {
	params Hyperparams
	result *validation.Result
	score  float64
	err    error
	run    bool
}

// Select implements Strategy.
func (s RandomSearch) Select(ctx context.Context, ds *dataset.HorizonDataset, v *validation.Validator) (Hyperparams, *validation.Result, error) {
	if s.Space.Trials <= 0 {
		return Hyperparams{}, nil, fmt.Errorf("%w: no trial budget", ErrModelTraining)
	}

	trials := s.drawTrials(int64(ds.Horizon))
	outcomes := make([]trialOutcome, len(trials))
	for i, p := range trials {
		outcomes[i].params = p
		outcomes[i].score = math.Inf(1)
	}

	var deadline time.Time
	if s.Space.Timeout > 0 {
		deadline = time.Now().Add(s.Space.Timeout)
	}

	workers := s.Space.Workers
	if workers < 1 {
		workers = 1
	}

	log := s.Log.With().Int("horizon", ds.Horizon).Logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range trials {
		if gctx.Err() != nil {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Warn().Int("trials_run", i).Msg("Search time budget exhausted")
			break
		}
		i := i
		g.Go(func() error {
			out := &outcomes[i]
			out.run = true
			result, err := v.Run(gctx, ds, fitter{params: out.params})
			if err != nil {
				out.err = err
				log.Debug().Err(err).
					Float64("lambda", out.params.Lambda).
					Int("half_life", out.params.HalfLife).
					Msg("Trial failed")
				return nil
			}
			out.result = result
			out.score = result.Mean
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Hyperparams{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return Hyperparams{}, nil, err
	}

	best := -1
	var lastErr error
	for i := range outcomes {
		if !outcomes[i].run {
			continue
		}
		if outcomes[i].err != nil {
			lastErr = outcomes[i].err
			continue
		}
		if best < 0 || outcomes[i].score < outcomes[best].score {
			best = i
		}
	}
	if best < 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no trials run")
		}
		if errors.Is(lastErr, validation.ErrInsufficientHistory) {
			return Hyperparams{}, nil, lastErr
		}
		return Hyperparams{}, nil, fmt.Errorf("%w: all trials failed for horizon %d: %v", ErrModelTraining, ds.Horizon, lastErr)
	}

	log.Info().
		Float64("lambda", outcomes[best].params.Lambda).
		Int("half_life", outcomes[best].params.HalfLife).
		Float64("score", outcomes[best].score).
		Msg("Search complete")

	return outcomes[best].params, outcomes[best].result, nil
}

// drawTrials generates the full deterministic trial sequence up front so
// the budget cuts the tail instead of reshuffling the draws.
func (s RandomSearch) drawTrials(offset int64) []Hyperparams {
	rng := rand.New(rand.NewSource(s.Space.Seed + offset))
	trials := make([]Hyperparams, s.Space.Trials)
	logMin := math.Log(s.Space.LambdaMin)
	logMax := math.Log(s.Space.LambdaMax)
	for i := range trials {
		trials[i].Lambda = math.Exp(logMin + rng.Float64()*(logMax-logMin))
		if len(s.Space.HalfLives) > 0 {
			trials[i].HalfLife = s.Space.HalfLives[rng.Intn(len(s.Space.HalfLives))]
		}
	}
	return trials
}
