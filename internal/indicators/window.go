package indicators

// Window is a fixed-capacity rolling buffer of the most recent values.
type Window struct {
	size   int
	values []float64
}

// NewWindow creates a window holding at most size values.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{size: size, values: make([]float64, 0, size)}
}

// Push appends v, evicting the oldest value once full.
func (w *Window) Push(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
}

// Values returns the buffered values oldest first. The slice is shared.
func (w *Window) Values() []float64 { return w.values }

func (w *Window) Len() int   { return len(w.values) }
func (w *Window) Full() bool { return len(w.values) == w.size }

// Last returns the newest value, or 0 when empty.
func (w *Window) Last() float64 {
	if len(w.values) == 0 {
		return 0
	}
	return w.values[len(w.values)-1]
}

// Highest returns the maximum buffered value.
func (w *Window) Highest() float64 { return Highest(w.values) }

// Lowest returns the minimum buffered value.
func (w *Window) Lowest() float64 { return Lowest(w.values) }

// Mean returns the average of the buffered values.
func (w *Window) Mean() float64 { return SMA(w.values, len(w.values)) }
