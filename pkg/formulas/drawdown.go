package formulas

// CalculateMaxDrawdown calculates the maximum drawdown from a price series.
//
// Drawdown = (Peak Value - Current Value) / Peak Value. The maximum over
// the series is returned as a positive fraction (0.25 = 25% loss from
// peak), or nil on insufficient data.
func CalculateMaxDrawdown(prices []float64) *float64 {
	if len(prices) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := prices[0]

	for _, price := range prices {
		if price > peak {
			peak = price
		}
		if peak > 0 {
			drawdown := (peak - price) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}
