// Package validation implements time-respecting walk-forward validation:
// rolling train/validation windows where validation always follows
// training chronologically, the leak-prevention core of model selection.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/kabuscan/kabuscan/internal/dataset"
)

// ErrInsufficientHistory indicates the dataset cannot form the minimum
// number of validation windows.
var ErrInsufficientHistory = errors.New("insufficient history")

// WindowConfig controls walk-forward window generation. Lengths and the
// step are counted in distinct trading days observed in the dataset.
type WindowConfig struct {
	TrainDays      int
	ValidationDays int
	StepDays       int
	MinWindows     int
}

// Window is one train/validation split. Boundaries are half-open row
// index ranges into the dataset; every validation date is strictly later
// than every training date.
type Window struct {
	TrainStart int
	TrainEnd   int
	ValStart   int
	ValEnd     int

	TrainFrom time.Time // First training date (inclusive)
	TrainTo   time.Time // Last training date (inclusive)
	ValFrom   time.Time // First validation date (inclusive)
	ValTo     time.Time // Last validation date (inclusive)
}

// Windows generates the chronologically ordered walk-forward windows for
// a dataset. Each window trains on TrainDays distinct dates and
// validates on the next ValidationDays dates; consecutive windows
// advance by StepDays. Fails with ErrInsufficientHistory when fewer than
// MinWindows windows fit.
func Windows(ds *dataset.HorizonDataset, cfg WindowConfig) ([]Window, error) {
	if cfg.TrainDays <= 0 || cfg.ValidationDays <= 0 || cfg.StepDays <= 0 {
		return nil, fmt.Errorf("window lengths must be positive")
	}
	if cfg.MinWindows <= 0 {
		return nil, fmt.Errorf("minimum window count must be positive")
	}

	dates := ds.Dates()

	var windows []Window
	for offset := 0; ; offset += cfg.StepDays {
		trainEndIdx := offset + cfg.TrainDays
		valEndIdx := trainEndIdx + cfg.ValidationDays
		if valEndIdx > len(dates) {
			break
		}

		trainFrom := dates[offset]
		valFrom := dates[trainEndIdx]
		trainStart, trainEnd := ds.RowRange(trainFrom, valFrom)
		valStart, valEnd := ds.RowRange(valFrom, boundary(dates, valEndIdx))

		// Empty slices would make the fit or score meaningless
		if trainEnd <= trainStart || valEnd <= valStart {
			return nil, fmt.Errorf("window %d: empty train or validation slice", len(windows))
		}

		windows = append(windows, Window{
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			ValStart:   valStart,
			ValEnd:     valEnd,
			TrainFrom:  trainFrom,
			TrainTo:    dates[trainEndIdx-1],
			ValFrom:    valFrom,
			ValTo:      dates[valEndIdx-1],
		})
	}

	if len(windows) < cfg.MinWindows {
		return nil, fmt.Errorf("formed %d windows, need %d: %w",
			len(windows), cfg.MinWindows, ErrInsufficientHistory)
	}

	return windows, nil
}

// boundary returns the exclusive date bound for index idx: the date at
// idx, or one day past the final date when idx runs off the end.
func boundary(dates []time.Time, idx int) time.Time {
	if idx < len(dates) {
		return dates[idx]
	}
	return dates[len(dates)-1].AddDate(0, 0, 1)
}
