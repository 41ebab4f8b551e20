package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kabuscan/kabuscan/internal/dataset"
)

func buildDataset(t *testing.T, symbols []string, days, horizon int) *dataset.HorizonDataset {
	t.Helper()

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var rows []dataset.Row
	for d := 0; d < days; d++ {
		for si, sym := range symbols {
			rows = append(rows, dataset.Row{
				Symbol:   sym,
				Date:     base.AddDate(0, 0, d),
				Features: []float64{float64(d), float64(si)},
				Labels:   map[int]float64{horizon: 0.001 * float64(d%7)},
			})
		}
	}

	frame, err := dataset.NewFrame([]string{"momentum", "value"}, rows)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	ds, err := frame.ForHorizon(horizon, 1)
	if err != nil {
		t.Fatalf("ForHorizon failed: %v", err)
	}
	return ds
}

func TestWindowsNoLeakage(t *testing.T) {
	ds := buildDataset(t, []string{"7203", "9984", "6758"}, 120, 5)
	cfg := WindowConfig{TrainDays: 40, ValidationDays: 10, StepDays: 10, MinWindows: 3}

	windows, err := Windows(ds, cfg)
	if err != nil {
		t.Fatalf("Windows failed: %v", err)
	}
	if len(windows) < cfg.MinWindows {
		t.Fatalf("got %d windows, want at least %d", len(windows), cfg.MinWindows)
	}

	for i, w := range windows {
		_, _, trainKeys := ds.Slice(w.TrainStart, w.TrainEnd)
		_, _, valKeys := ds.Slice(w.ValStart, w.ValEnd)

		// Every validation date strictly later than every training date
		var maxTrain time.Time
		for _, k := range trainKeys {
			if k.Date.After(maxTrain) {
				maxTrain = k.Date
			}
		}
		for _, k := range valKeys {
			if !k.Date.After(maxTrain) {
				t.Fatalf("window %d: validation date %s not after last training date %s",
					i, k.Date.Format("2006-01-02"), maxTrain.Format("2006-01-02"))
			}
		}

		// Row keys disjoint between the two slices
		seen := make(map[dataset.RowKey]bool, len(trainKeys))
		for _, k := range trainKeys {
			seen[k] = true
		}
		for _, k := range valKeys {
			if seen[k] {
				t.Fatalf("window %d: row %v present in both train and validation", i, k)
			}
		}
	}
}

func TestWindowsAdvanceByStep(t *testing.T) {
	ds := buildDataset(t, []string{"7203"}, 100, 5)
	cfg := WindowConfig{TrainDays: 30, ValidationDays: 10, StepDays: 20, MinWindows: 2}

	windows, err := Windows(ds, cfg)
	if err != nil {
		t.Fatalf("Windows failed: %v", err)
	}

	// 100 days, window span 40, step 20 -> offsets 0,20,40,60
	if len(windows) != 4 {
		t.Fatalf("got %d windows, want 4", len(windows))
	}
	for i := 1; i < len(windows); i++ {
		gap := int(windows[i].TrainFrom.Sub(windows[i-1].TrainFrom).Hours() / 24)
		if gap != 20 {
			t.Errorf("window %d starts %d days after previous, want 20", i, gap)
		}
	}
}

func TestWindowsInsufficientHistory(t *testing.T) {
	ds := buildDataset(t, []string{"7203"}, 50, 5)
	cfg := WindowConfig{TrainDays: 40, ValidationDays: 10, StepDays: 10, MinWindows: 3}

	_, err := Windows(ds, cfg)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

// meanFitter predicts the training-label mean for every row.
type meanFitter struct{}

type meanPredictor struct{ mean float64 }

func (meanFitter) Fit(x [][]float64, y []float64) (Predictor, error) {
	sum := 0.0
	for _, v := range y {
		sum += v
	}
	return meanPredictor{mean: sum / float64(len(y))}, nil
}

func (p meanPredictor) Predict(_ []float64) float64 { return p.mean }

// failFitter always fails to fit.
type failFitter struct{}

func (failFitter) Fit(_ [][]float64, _ []float64) (Predictor, error) {
	return nil, fmt.Errorf("numeric instability")
}

func TestRunAggregatesWindows(t *testing.T) {
	ds := buildDataset(t, []string{"7203", "9984"}, 120, 5)
	cfg := WindowConfig{TrainDays: 40, ValidationDays: 10, StepDays: 10, MinWindows: 3}
	v := New(cfg, MetricMAE, testLogger())

	result, err := v.Run(context.Background(), ds, meanFitter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.PerWindow) < cfg.MinWindows {
		t.Fatalf("got %d window scores, want at least %d", len(result.PerWindow), cfg.MinWindows)
	}
	for i, s := range result.PerWindow {
		if math.IsNaN(s) || s < 0 {
			t.Errorf("window %d: invalid MAE %v", i, s)
		}
	}
	if math.IsNaN(result.Mean) || math.IsNaN(result.Std) {
		t.Error("aggregate contains NaN")
	}
}

func TestRunPropagatesFitFailure(t *testing.T) {
	ds := buildDataset(t, []string{"7203"}, 120, 5)
	cfg := WindowConfig{TrainDays: 40, ValidationDays: 10, StepDays: 10, MinWindows: 3}
	v := New(cfg, MetricMAE, testLogger())

	if _, err := v.Run(context.Background(), ds, failFitter{}); err == nil {
		t.Fatal("expected fit failure to propagate")
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	ds := buildDataset(t, []string{"7203"}, 120, 5)
	cfg := WindowConfig{TrainDays: 40, ValidationDays: 10, StepDays: 10, MinWindows: 3}
	v := New(cfg, MetricMAE, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := v.Run(ctx, ds, meanFitter{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScoreMetrics(t *testing.T) {
	predicted := []float64{0.1, 0.2, 0.3}
	actual := []float64{0.2, 0.2, 0.2}

	mae, err := Score(MetricMAE, predicted, actual)
	if err != nil {
		t.Fatalf("MAE failed: %v", err)
	}
	if math.Abs(mae-(0.2/3.0)) > 1e-12 {
		t.Errorf("MAE = %v", mae)
	}

	// Perfect rank agreement scores -1 (negated correlation, minimized)
	ic, err := Score(MetricSpearmanIC, []float64{1, 2, 3}, []float64{10, 20, 30})
	if err != nil {
		t.Fatalf("IC failed: %v", err)
	}
	if math.Abs(ic-(-1.0)) > 1e-9 {
		t.Errorf("Spearman IC score = %v, want -1", ic)
	}

	if _, err := Score(MetricMAE, []float64{1}, []float64{1, 2}); err == nil {
		t.Error("expected length mismatch error")
	}
}
