// Package pipeline orchestrates one scoring run end to end: train the
// horizon ensemble on a feature frame, predict for every instrument,
// blend the sub-scores, rank, and persist the result.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kabuscan/kabuscan/internal/config"
	"github.com/kabuscan/kabuscan/internal/dataset"
	"github.com/kabuscan/kabuscan/internal/ensemble"
	"github.com/kabuscan/kabuscan/internal/model"
	"github.com/kabuscan/kabuscan/internal/modelstore"
	"github.com/kabuscan/kabuscan/internal/scoring"
	"github.com/kabuscan/kabuscan/internal/validation"
)

// neutralSubScore stands in for a missing fundamental or risk input.
const neutralSubScore = 0.5

// Inputs is everything one run consumes. The frame is treated as
// immutable; sub-score maps are keyed by symbol and may be sparse.
type Inputs struct {
	Frame *dataset.Frame
	// Fundamental sub-scores, pre-normalized by their producer.
	Fundamental map[string]float64
	// Fundamentals is raw company data; symbols without an explicit
	// Fundamental sub-score get one derived from it.
	Fundamentals map[string]scoring.Fundamentals
	// Risk sub-scores. Symbols absent here fall back to a score
	// derived from Closes, then to neutral.
	Risk map[string]float64
	// Closes is trailing price history per symbol for the derived
	// risk score.
	Closes map[string][]float64
}

// HorizonReport is the per-horizon training record carried in a run
// report.
type HorizonReport struct {
	Horizon        int     `json:"horizon"`
	Trained        bool    `json:"trained"`
	Error          string  `json:"error,omitempty"`
	Strategy       string  `json:"strategy,omitempty"`
	Lambda         float64 `json:"lambda,omitempty"`
	HalfLife       int     `json:"half_life,omitempty"`
	ValidationMean float64 `json:"validation_mean,omitempty"`
	ValidationStd  float64 `json:"validation_std,omitempty"`
	Windows        int     `json:"windows,omitempty"`
}

// SkippedInstrument records a symbol the run could not score.
type SkippedInstrument struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Report is the full outcome of one scoring run.
type Report struct {
	RunID       string                `json:"run_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	DataEnd     time.Time             `json:"data_end"`
	Metric      string                `json:"metric"`
	Strategy    string                `json:"strategy"`
	Degraded    bool                  `json:"degraded"`
	Horizons    []HorizonReport       `json:"horizons"`
	Ranking     []scoring.RankedEntry `json:"ranking"`
	Skipped     []SkippedInstrument   `json:"skipped,omitempty"`
}

// Service runs the scoring pipeline. Store and runs are optional; a
// nil store skips artifact persistence and a nil run repository skips
// history.
type Service struct {
	opts  config.Options
	store *modelstore.Store
	runs  *RunRepository
	log   zerolog.Logger
}

// New builds a pipeline service.
func New(opts config.Options, store *modelstore.Store, runs *RunRepository, log zerolog.Logger) *Service {
	return &Service{
		opts:  opts,
		store: store,
		runs:  runs,
		log:   log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes one full scoring pass. Horizons that fail to train
// degrade the run but do not abort it; the run fails only when no
// horizon trains or the ranking cannot be formed at all.
func (s *Service) Run(ctx context.Context, in Inputs) (*Report, error) {
	if in.Frame == nil || in.Frame.Len() == 0 {
		return nil, fmt.Errorf("%w: empty feature frame", dataset.ErrInsufficientData)
	}

	started := time.Now()
	strategy := s.strategy()

	e, err := ensemble.Train(ctx, in.Frame, ensemble.Config{
		Horizons: s.opts.HorizonDays(),
		MinRows:  s.opts.MinRows,
		Window: validation.WindowConfig{
			TrainDays:      s.opts.Window.TrainDays,
			ValidationDays: s.opts.Window.ValidationDays,
			StepDays:       s.opts.Window.StepDays,
			MinWindows:     s.opts.Window.MinWindows,
		},
		Metric: validation.Metric(s.opts.Metric),
	}, strategy, s.log)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Metric:      s.opts.Metric,
		Strategy:    strategy.Name(),
	}

	for _, out := range e.Outcomes() {
		hr := HorizonReport{Horizon: out.Horizon}
		if out.Err != nil {
			hr.Error = out.Err.Error()
			report.Degraded = true
		} else {
			hr.Trained = true
			hr.Strategy = out.Model.Strategy
			hr.Lambda = out.Model.Params.Lambda
			hr.HalfLife = out.Model.Params.HalfLife
			if out.Model.Validation != nil {
				hr.ValidationMean = out.Model.Validation.Mean
				hr.ValidationStd = out.Model.Validation.Std
				hr.Windows = len(out.Model.Validation.PerWindow)
			}
			if out.Model.DataEnd.After(report.DataEnd) {
				report.DataEnd = out.Model.DataEnd
			}
		}
		report.Horizons = append(report.Horizons, hr)
	}

	if s.store != nil {
		for _, h := range e.Horizons() {
			m, _ := e.Model(h)
			if _, err := s.store.Save(m); err != nil {
				return nil, fmt.Errorf("failed to persist horizon %d: %w", h, err)
			}
		}
	}

	components, skipped, err := s.scoreInstruments(e, in)
	if err != nil {
		return nil, err
	}
	report.Skipped = skipped
	report.Ranking = scoring.Rank(components, s.opts.TopN)

	if s.runs != nil {
		if err := s.runs.Save(report); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("run_id", report.RunID).
		Int("ranked", len(report.Ranking)).
		Int("skipped", len(report.Skipped)).
		Bool("degraded", report.Degraded).
		Dur("elapsed", time.Since(started)).
		Msg("Scoring run complete")

	return report, nil
}

func (s *Service) strategy() model.Strategy {
	if s.opts.SkipSearch {
		return model.FixedConfig{Params: model.Hyperparams{
			Lambda:   s.opts.Fixed.Lambda,
			HalfLife: s.opts.Fixed.HalfLife,
		}}
	}
	return model.RandomSearch{
		Space: model.SearchSpace{
			LambdaMin: s.opts.Search.LambdaMin,
			LambdaMax: s.opts.Search.LambdaMax,
			HalfLives: s.opts.Search.HalfLives,
			Trials:    s.opts.Search.Trials,
			Timeout:   time.Duration(s.opts.Search.TimeoutSeconds) * time.Second,
			Workers:   s.opts.Search.Workers,
			Seed:      s.opts.Search.Seed,
		},
		Log: s.log,
	}
}

// scoreInstruments blends sub-scores for every symbol with a current
// feature vector. Symbols that cannot be scored are reported, not
// fatal, unless every symbol is skipped.
func (s *Service) scoreInstruments(e *ensemble.Ensemble, in Inputs) ([]scoring.Components, []SkippedInstrument, error) {
	composite, err := scoring.NewComposite(s.opts.HorizonWeights(), scoring.BlendWeights{
		Prediction:  s.opts.Blend.Prediction,
		Fundamental: s.opts.Blend.Fundamental,
		Risk:        s.opts.Blend.Risk,
	})
	if err != nil {
		return nil, nil, err
	}
	riskScorer := scoring.NewRiskScorer(s.opts.RiskLookback, s.log)
	fundamentalScorer := scoring.NewFundamentalScorer(s.log)

	latest := in.Frame.LatestFeatures()
	symbols := make([]string, 0, len(latest))
	for symbol := range latest {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var components []scoring.Components
	var skipped []SkippedInstrument
	for _, symbol := range symbols {
		predictions := e.Predict(latest[symbol])

		fundamental, ok := in.Fundamental[symbol]
		if !ok {
			if raw, hasRaw := in.Fundamentals[symbol]; hasRaw {
				fundamental = fundamentalScorer.Score(symbol, raw, in.Closes[symbol])
			} else {
				fundamental = neutralSubScore
			}
		}
		risk, ok := in.Risk[symbol]
		if !ok {
			if closes, hasCloses := in.Closes[symbol]; hasCloses {
				risk = riskScorer.Score(symbol, closes)
			} else {
				risk = neutralSubScore
			}
		}

		comp, err := composite.Score(symbol, predictions, fundamental, risk)
		if err != nil {
			skipped = append(skipped, SkippedInstrument{Symbol: symbol, Reason: err.Error()})
			continue
		}
		components = append(components, comp)
	}

	if len(components) == 0 {
		return nil, nil, fmt.Errorf("%w: no instrument could be scored", scoring.ErrIncompleteScoreInput)
	}
	return components, skipped, nil
}
