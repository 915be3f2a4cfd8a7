package indicators

// RSI returns Wilder's Relative Strength Index over values. The first period
// changes seed the average gain and loss; later changes are smoothed in.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		up, down := split(values[i] - values[i-1])
		avgGain += up
		avgLoss += down
	}
	n := float64(period)
	avgGain /= n
	avgLoss /= n

	for i := period + 1; i < len(values); i++ {
		up, down := split(values[i] - values[i-1])
		avgGain = (avgGain*(n-1) + up) / n
		avgLoss = (avgLoss*(n-1) + down) / n
	}

	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}
