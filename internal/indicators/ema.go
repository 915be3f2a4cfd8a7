package indicators

import "math"

// EMA is an incrementally updated exponential moving average seeded by the first value.
type EMA struct {
	alpha float64
	value float64
	ready bool
}

// NewEMA uses the conventional alpha = 2/(period+1).
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{alpha: 2 / float64(period+1)}
}

// Update folds x in and returns the new average.
func (e *EMA) Update(x float64) float64 {
	if !e.ready {
		e.value, e.ready = x, true
		return x
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}

func (e *EMA) Value() float64 { return e.value }

// ATR is a simple average of true ranges over a fixed period.
type ATR struct {
	ranges    *Window
	prevClose float64
	seen      bool
}

func NewATR(period int) *ATR {
	return &ATR{ranges: NewWindow(period)}
}

// Update ingests one bar and returns the current ATR, ok once the period is full.
func (a *ATR) Update(high, low, close float64) (float64, bool) {
	tr := high - low
	if a.seen {
		tr = math.Max(tr, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	}
	a.prevClose, a.seen = close, true
	a.ranges.Push(tr)
	if !a.ranges.Full() {
		return 0, false
	}
	return a.ranges.Mean(), true
}
