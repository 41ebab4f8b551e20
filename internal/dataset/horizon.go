package dataset

import (
	"fmt"
	"sort"
	"time"
)

// HorizonDataset is the training view of a frame for one forecast
// horizon: rows whose forward label for that horizon is observable,
// kept in (date, symbol) order with their keys for traceability.
type HorizonDataset struct {
	Horizon int
	Columns []string
	Keys    []RowKey
	X       [][]float64
	Y       []float64
}

// ForHorizon slices the frame into a training dataset for one horizon.
// Rows whose label for the horizon is absent (series tail) are dropped.
// Fails with ErrInsufficientData when fewer than minRows remain.
func (f *Frame) ForHorizon(horizon, minRows int) (*HorizonDataset, error) {
	ds := &HorizonDataset{
		Horizon: horizon,
		Columns: f.Columns(),
	}

	for i := range f.rows {
		label, ok := f.rows[i].Labels[horizon]
		if !ok {
			continue
		}
		features := make([]float64, len(f.rows[i].Features))
		copy(features, f.rows[i].Features)

		ds.Keys = append(ds.Keys, RowKey{Symbol: f.rows[i].Symbol, Date: f.rows[i].Date})
		ds.X = append(ds.X, features)
		ds.Y = append(ds.Y, label)
	}

	if len(ds.Keys) < minRows {
		return nil, fmt.Errorf("horizon %d: %d usable rows, need %d: %w",
			horizon, len(ds.Keys), minRows, ErrInsufficientData)
	}

	return ds, nil
}

// Len returns the number of rows in the dataset.
func (ds *HorizonDataset) Len() int {
	return len(ds.Keys)
}

// Dates returns the distinct observation dates in ascending order.
func (ds *HorizonDataset) Dates() []time.Time {
	var out []time.Time
	for i := range ds.Keys {
		if len(out) == 0 || !out[len(out)-1].Equal(ds.Keys[i].Date) {
			out = append(out, ds.Keys[i].Date)
		}
	}
	return out
}

// RowRange returns the half-open row index range [start, end) of rows
// whose date d satisfies from <= d < to. Rows are date-ordered, so the
// range is contiguous.
func (ds *HorizonDataset) RowRange(from, to time.Time) (int, int) {
	start := sort.Search(len(ds.Keys), func(i int) bool {
		return !ds.Keys[i].Date.Before(from)
	})
	end := sort.Search(len(ds.Keys), func(i int) bool {
		return !ds.Keys[i].Date.Before(to)
	})
	return start, end
}

// Slice returns the features, labels and keys for rows [start, end).
// The returned slices alias the dataset's backing arrays; callers must
// treat them as read-only.
func (ds *HorizonDataset) Slice(start, end int) ([][]float64, []float64, []RowKey) {
	return ds.X[start:end], ds.Y[start:end], ds.Keys[start:end]
}
