// Package dataset provides the immutable feature frame and its
// per-horizon training views.
//
// A frame is handed to the engine fully computed: named numeric feature
// columns plus, per configured horizon, a forward-return label that is
// absent at the tail of each instrument's series where the future close
// is not yet observable.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInsufficientData indicates a horizon view with fewer rows than the
// configured minimum; fitting a model on it would be meaningless.
var ErrInsufficientData = errors.New("insufficient data")

// RowKey identifies one observation: an instrument on a trading day.
type RowKey struct {
	Symbol string
	Date   time.Time
}

// Row is one observation in a feature frame. Features are aligned with
// the frame's column names. Labels maps horizon days to the forward
// return over that horizon; a missing key means the label is not yet
// observable.
type Row struct {
	Symbol   string
	Date     time.Time
	Features []float64
	Labels   map[int]float64
}

// Frame is an immutable, time-ordered table of per-instrument feature
// vectors and forward labels. Rows are held in (date, symbol) order;
// per instrument, dates are strictly increasing with no duplicates.
type Frame struct {
	columns []string
	rows    []Row
}

// NewFrame validates and assembles a feature frame. Rows may be passed
// in any order; they are canonicalized to (date, symbol) order. Rows
// with the wrong feature width, non-finite feature values, or duplicate
// (symbol, date) keys are rejected.
func NewFrame(columns []string, rows []Row) (*Frame, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("frame requires at least one feature column")
	}

	seen := make(map[RowKey]bool, len(rows))
	for i := range rows {
		r := &rows[i]
		if r.Symbol == "" {
			return nil, fmt.Errorf("row %d: empty symbol", i)
		}
		if len(r.Features) != len(columns) {
			return nil, fmt.Errorf("row %d (%s %s): %d features, frame has %d columns",
				i, r.Symbol, r.Date.Format("2006-01-02"), len(r.Features), len(columns))
		}
		for j, v := range r.Features {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("row %d (%s %s): non-finite value in column %q",
					i, r.Symbol, r.Date.Format("2006-01-02"), columns[j])
			}
		}
		for horizon, label := range r.Labels {
			if math.IsNaN(label) || math.IsInf(label, 0) {
				return nil, fmt.Errorf("row %d (%s %s): non-finite label for horizon %d",
					i, r.Symbol, r.Date.Format("2006-01-02"), horizon)
			}
		}

		key := RowKey{Symbol: r.Symbol, Date: r.Date}
		if seen[key] {
			return nil, fmt.Errorf("duplicate row for %s on %s", r.Symbol, r.Date.Format("2006-01-02"))
		}
		seen[key] = true
	}

	ordered := make([]Row, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(a, b int) bool {
		if !ordered[a].Date.Equal(ordered[b].Date) {
			return ordered[a].Date.Before(ordered[b].Date)
		}
		return ordered[a].Symbol < ordered[b].Symbol
	})

	cols := make([]string, len(columns))
	copy(cols, columns)

	return &Frame{columns: cols, rows: ordered}, nil
}

// Columns returns the feature column names.
func (f *Frame) Columns() []string {
	cols := make([]string, len(f.columns))
	copy(cols, f.columns)
	return cols
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.rows)
}

// Symbols returns the distinct instrument symbols, sorted ascending.
func (f *Frame) Symbols() []string {
	set := make(map[string]bool)
	for i := range f.rows {
		set[f.rows[i].Symbol] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LatestFeatures returns each instrument's most recent feature vector,
// the input to live prediction.
func (f *Frame) LatestFeatures() map[string][]float64 {
	out := make(map[string][]float64)
	// Rows are date-ascending, so later rows overwrite earlier ones.
	for i := range f.rows {
		features := make([]float64, len(f.rows[i].Features))
		copy(features, f.rows[i].Features)
		out[f.rows[i].Symbol] = features
	}
	return out
}
