package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// AnnualizedVolatility calculates annualized volatility from daily returns
// Formula: Std Dev of Daily Returns × sqrt(252 trading days)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(252)
}

// CalculateReturns converts prices to percentage returns
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// SpearmanCorrelation calculates the Spearman rank correlation between two
// datasets. Values are converted to fractional ranks (ties averaged) and
// the Pearson correlation of the ranks is returned.
func SpearmanCorrelation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return Correlation(ranks(x), ranks(y))
}

// ranks converts values to fractional ranks, averaging ties.
func ranks(data []float64) []float64 {
	n := len(data)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return data[idx[a]] < data[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && data[idx[j+1]] == data[idx[i]] {
			j++
		}
		// Average rank across the tie group
		avg := float64(i+j) / 2.0
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

// CalculateCAGR computes the compound annual growth rate over the last
// `periods` prices, assuming `periodsPerYear` observations per year.
// Returns nil when there is not enough history or prices are degenerate.
func CalculateCAGR(prices []float64, periods, periodsPerYear int) *float64 {
	if periods < 2 || periodsPerYear <= 0 || len(prices) < periods {
		return nil
	}
	window := prices[len(prices)-periods:]
	first, last := window[0], window[len(window)-1]
	if first <= 0 || last <= 0 {
		return nil
	}
	years := float64(periods-1) / float64(periodsPerYear)
	cagr := math.Pow(last/first, 1/years) - 1
	if math.IsNaN(cagr) || math.IsInf(cagr, 0) {
		return nil
	}
	return &cagr
}

// WinRate returns the fraction of returns that are strictly positive.
func WinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}
