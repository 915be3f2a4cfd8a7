// Package indicators holds the bar-series calculations used by the built-in
// strategies. Functions take oldest-first values and return 0 until enough
// values are available.
package indicators

// SMA returns the mean of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}
