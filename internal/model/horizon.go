package model

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kabuscan/kabuscan/internal/dataset"
	"github.com/kabuscan/kabuscan/internal/validation"
)

// HorizonModel is a deployed regressor for one prediction horizon: the
// winning hyperparameters, the validation record backing the selection,
// and a final fit on the full dataset.
type HorizonModel struct {
	Horizon    int
	Params     Hyperparams
	Validation *validation.Result
	Strategy   string
	// DataEnd is the last observation date the model was fit on.
	DataEnd time.Time
	// Columns is the feature order Predict expects.
	Columns []string

	regressor *Ridge
}

// Train selects hyperparameters for the dataset's horizon and fits the
// final model on every row. The validation result reflects the
// selection pass, not the final fit.
func Train(ctx context.Context, ds *dataset.HorizonDataset, strategy Strategy, v *validation.Validator, log zerolog.Logger) (*HorizonModel, error) {
	params, result, err := strategy.Select(ctx, ds, v)
	if err != nil {
		return nil, err
	}

	reg, err := FitRidge(ds.X, ds.Y, params)
	if err != nil {
		return nil, fmt.Errorf("%w: final fit for horizon %d: %v", ErrModelTraining, ds.Horizon, err)
	}

	dates := ds.Dates()
	m := &HorizonModel{
		Horizon:    ds.Horizon,
		Params:     params,
		Validation: result,
		Strategy:   strategy.Name(),
		DataEnd:    dates[len(dates)-1],
		Columns:    ds.Columns,
		regressor:  reg,
	}

	log.Info().
		Int("horizon", m.Horizon).
		Str("strategy", m.Strategy).
		Float64("lambda", params.Lambda).
		Int("half_life", params.HalfLife).
		Float64("validation_mean", result.Mean).
		Int("rows", ds.Len()).
		Msg("Horizon model trained")

	return m, nil
}

// Predict returns the forecast return for one feature vector, ordered
// per Columns.
func (m *HorizonModel) Predict(features []float64) float64 {
	return m.regressor.Predict(features)
}

// Snapshot is the serializable form of a trained model.
type Snapshot struct {
	Horizon        int         `msgpack:"horizon"`
	Params         Hyperparams `msgpack:"params"`
	Strategy       string      `msgpack:"strategy"`
	DataEnd        time.Time   `msgpack:"data_end"`
	Columns        []string    `msgpack:"columns"`
	Coeffs         []float64   `msgpack:"coeffs"`
	Intercept      float64     `msgpack:"intercept"`
	Means          []float64   `msgpack:"means"`
	Scales         []float64   `msgpack:"scales"`
	ValidationMean float64     `msgpack:"validation_mean"`
	ValidationStd  float64     `msgpack:"validation_std"`
	Windows        int         `msgpack:"windows"`
}

// Snapshot captures the model for persistence.
func (m *HorizonModel) Snapshot() Snapshot {
	snap := Snapshot{
		Horizon:   m.Horizon,
		Params:    m.Params,
		Strategy:  m.Strategy,
		DataEnd:   m.DataEnd,
		Columns:   m.Columns,
		Coeffs:    append([]float64(nil), m.regressor.coeffs...),
		Intercept: m.regressor.intercept,
		Means:     append([]float64(nil), m.regressor.means...),
		Scales:    append([]float64(nil), m.regressor.scales...),
	}
	if m.Validation != nil {
		snap.ValidationMean = m.Validation.Mean
		snap.ValidationStd = m.Validation.Std
		snap.Windows = len(m.Validation.PerWindow)
	}
	return snap
}

// FromSnapshot rebuilds a model from its persisted form.
func FromSnapshot(snap Snapshot) (*HorizonModel, error) {
	p := len(snap.Coeffs)
	if p == 0 || len(snap.Means) != p || len(snap.Scales) != p {
		return nil, fmt.Errorf("model snapshot for horizon %d is malformed", snap.Horizon)
	}
	m := &HorizonModel{
		Horizon:  snap.Horizon,
		Params:   snap.Params,
		Strategy: snap.Strategy,
		DataEnd:  snap.DataEnd,
		Columns:  snap.Columns,
		regressor: &Ridge{
			params:    snap.Params,
			coeffs:    snap.Coeffs,
			intercept: snap.Intercept,
			means:     snap.Means,
			scales:    snap.Scales,
		},
	}
	if snap.Windows > 0 {
		m.Validation = &validation.Result{Mean: snap.ValidationMean, Std: snap.ValidationStd}
	}
	return m, nil
}
