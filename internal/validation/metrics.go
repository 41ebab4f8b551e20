package validation

import (
	"fmt"
	"math"

	"github.com/kabuscan/kabuscan/pkg/formulas"
)

// Metric selects the validation error measure. All metrics score
// lower-is-better so the hyperparameter search can minimize uniformly.
type Metric string

const (
	// MetricMAE is mean absolute error.
	MetricMAE Metric = "mae"
	// MetricRMSE is root mean squared error.
	MetricRMSE Metric = "rmse"
	// MetricSpearmanIC is the negated Spearman rank correlation between
	// predicted and realized returns (the information coefficient).
	MetricSpearmanIC Metric = "spearman_ic"
)

// Score computes the metric value for a prediction/actual pair. Returns
// an error on length mismatch, empty input, or a non-finite result.
func Score(metric Metric, predicted, actual []float64) (float64, error) {
	if len(predicted) == 0 || len(predicted) != len(actual) {
		return 0, fmt.Errorf("metric input lengths %d/%d", len(predicted), len(actual))
	}

	var value float64
	switch metric {
	case MetricMAE:
		sum := 0.0
		for i := range predicted {
			sum += math.Abs(predicted[i] - actual[i])
		}
		value = sum / float64(len(predicted))
	case MetricRMSE:
		sum := 0.0
		for i := range predicted {
			d := predicted[i] - actual[i]
			sum += d * d
		}
		value = math.Sqrt(sum / float64(len(predicted)))
	case MetricSpearmanIC:
		value = -formulas.SpearmanCorrelation(predicted, actual)
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("metric %s produced non-finite value", metric)
	}
	return value, nil
}
