package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// weightSumTolerance is the allowed deviation from 1.0 for weight sums.
const weightSumTolerance = 1e-9

// HorizonOption configures one forecast horizon.
type HorizonOption struct {
	Days   int     `yaml:"days"`   // Forward trading days
	Weight float64 `yaml:"weight"` // Contribution to the predicted-return sub-score
}

// WindowOptions configures walk-forward validation windows.
type WindowOptions struct {
	TrainDays      int `yaml:"train_days"`      // Training window length (trading days)
	ValidationDays int `yaml:"validation_days"` // Validation window length (trading days)
	StepDays       int `yaml:"step_days"`       // Advance between consecutive windows
	MinWindows     int `yaml:"min_windows"`     // Minimum window count to proceed
}

// SearchOptions configures the hyperparameter search.
type SearchOptions struct {
	LambdaMin      float64 `yaml:"lambda_min"`      // L2 penalty lower bound (log-uniform)
	LambdaMax      float64 `yaml:"lambda_max"`      // L2 penalty upper bound
	HalfLives      []int   `yaml:"half_lives"`      // Recency half-life candidates in rows (0 = unweighted)
	Trials         int     `yaml:"trials"`          // Trial budget
	TimeoutSeconds int     `yaml:"timeout_seconds"` // Wall-clock budget
	Workers        int     `yaml:"workers"`         // Concurrent trials per horizon
	Seed           int64   `yaml:"seed"`            // RNG seed for reproducible sampling
}

// BlendOptions configures the final score blend.
type BlendOptions struct {
	Prediction  float64 `yaml:"prediction"`
	Fundamental float64 `yaml:"fundamental"`
	Risk        float64 `yaml:"risk"`
}

// FixedOptions is the fast-path hyperparameter configuration used when
// the search is skipped.
type FixedOptions struct {
	Lambda   float64 `yaml:"lambda"`
	HalfLife int     `yaml:"half_life"`
}

// Options is the engine option set: horizons, validation windows, the
// hyperparameter search space, score blending and output shaping.
type Options struct {
	Horizons     []HorizonOption `yaml:"horizons"`
	MinRows      int             `yaml:"min_rows"` // Minimum dataset rows per horizon
	Window       WindowOptions   `yaml:"window"`
	Metric       string          `yaml:"metric"` // mae, rmse or spearman_ic
	Search       SearchOptions   `yaml:"search"`
	Fixed        FixedOptions    `yaml:"fixed"`
	Blend        BlendOptions    `yaml:"blend"`
	TopN         int             `yaml:"top_n"`
	SkipSearch   bool            `yaml:"skip_search"`   // Fast path: fit Fixed directly
	RiskLookback int             `yaml:"risk_lookback"` // Trailing days for the risk sub-score helper
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Horizons: []HorizonOption{
			{Days: 1, Weight: 0.30},
			{Days: 5, Weight: 0.30},
			{Days: 20, Weight: 0.25},
			{Days: 60, Weight: 0.15},
		},
		MinRows: 250,
		Window: WindowOptions{
			TrainDays:      252,
			ValidationDays: 21,
			StepDays:       21,
			MinWindows:     3,
		},
		Metric: "mae",
		Search: SearchOptions{
			LambdaMin:      1e-4,
			LambdaMax:      100.0,
			HalfLives:      []int{0, 63, 126, 252},
			Trials:         50,
			TimeoutSeconds: 3600,
			Workers:        4,
			Seed:           42,
		},
		Fixed: FixedOptions{
			Lambda:   1.0,
			HalfLife: 0,
		},
		Blend: BlendOptions{
			Prediction:  0.50,
			Fundamental: 0.25,
			Risk:        0.25,
		},
		TopN:         10,
		SkipSearch:   false,
		RiskLookback: 60,
	}
}

// LoadOptions reads engine options from a YAML file, starting from the
// defaults so partial files are valid. An empty path returns the
// defaults. The result is always validated.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Options{}, fmt.Errorf("failed to read options file: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, fmt.Errorf("failed to parse options file: %w", err)
		}
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// HorizonDays returns the configured horizon lengths in declaration order.
func (o Options) HorizonDays() []int {
	days := make([]int, len(o.Horizons))
	for i, h := range o.Horizons {
		days[i] = h.Days
	}
	return days
}

// HorizonWeights returns horizon weights keyed by horizon days.
func (o Options) HorizonWeights() map[int]float64 {
	weights := make(map[int]float64, len(o.Horizons))
	for _, h := range o.Horizons {
		weights[h.Days] = h.Weight
	}
	return weights
}

// Validate checks the option set. Horizon weights and blend weights must
// each sum to 1; window sizing and budgets must be positive.
func (o Options) Validate() error {
	if len(o.Horizons) == 0 {
		return fmt.Errorf("at least one horizon is required")
	}

	seen := make(map[int]bool, len(o.Horizons))
	weightSum := 0.0
	for _, h := range o.Horizons {
		if h.Days <= 0 {
			return fmt.Errorf("horizon days must be positive, got %d", h.Days)
		}
		if seen[h.Days] {
			return fmt.Errorf("duplicate horizon %d", h.Days)
		}
		seen[h.Days] = true
		if h.Weight < 0 {
			return fmt.Errorf("horizon %d has negative weight %v", h.Days, h.Weight)
		}
		weightSum += h.Weight
	}
	if math.Abs(weightSum-1.0) > weightSumTolerance {
		return fmt.Errorf("horizon weights must sum to 1, got %v", weightSum)
	}

	blendSum := o.Blend.Prediction + o.Blend.Fundamental + o.Blend.Risk
	if math.Abs(blendSum-1.0) > weightSumTolerance {
		return fmt.Errorf("blend weights must sum to 1, got %v", blendSum)
	}
	if o.Blend.Prediction < 0 || o.Blend.Fundamental < 0 || o.Blend.Risk < 0 {
		return fmt.Errorf("blend weights must be non-negative")
	}

	if o.MinRows <= 0 {
		return fmt.Errorf("min_rows must be positive, got %d", o.MinRows)
	}
	if o.Window.TrainDays <= 0 || o.Window.ValidationDays <= 0 || o.Window.StepDays <= 0 {
		return fmt.Errorf("window lengths must be positive")
	}
	if o.Window.MinWindows <= 0 {
		return fmt.Errorf("min_windows must be positive, got %d", o.Window.MinWindows)
	}

	switch o.Metric {
	case "mae", "rmse", "spearman_ic":
	default:
		return fmt.Errorf("unknown metric %q", o.Metric)
	}

	if !o.SkipSearch {
		if o.Search.Trials <= 0 {
			return fmt.Errorf("search trials must be positive, got %d", o.Search.Trials)
		}
		if o.Search.LambdaMin <= 0 || o.Search.LambdaMax < o.Search.LambdaMin {
			return fmt.Errorf("invalid lambda range [%v, %v]", o.Search.LambdaMin, o.Search.LambdaMax)
		}
		if o.Search.Workers <= 0 {
			return fmt.Errorf("search workers must be positive, got %d", o.Search.Workers)
		}
	}

	if o.TopN <= 0 {
		return fmt.Errorf("top_n must be positive, got %d", o.TopN)
	}
	if o.RiskLookback <= 0 {
		return fmt.Errorf("risk_lookback must be positive, got %d", o.RiskLookback)
	}

	return nil
}
