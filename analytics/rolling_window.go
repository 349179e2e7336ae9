package analytics

import "math"

// MaxSamples is the capacity of a sampling session's window.
const MaxSamples = 240

// RollingWindow holds the most recent signal strengths, oldest first.
// It is not safe for concurrent use.
type RollingWindow struct {
	windowSize int
	values     []int
	index      int
	count      int
	sum        int64
}

func NewRollingWindow(size int) *RollingWindow {
	if size < 1 {
		size = 1
	}
	return &RollingWindow{
		windowSize: size,
		values:     make([]int, size),
		index:      0,
		count:      0,
		sum:        0,
	}
}

// Add appends value, evicting exactly the oldest element once the window is full.
func (rw *RollingWindow) Add(value int) {

	if rw.count < rw.windowSize {
		rw.values[rw.index] = value
		rw.sum += int64(value)
		rw.count++
		rw.index = (rw.index + 1) % rw.windowSize
	} else {

		oldValue := rw.values[rw.index]
		rw.values[rw.index] = value
		rw.sum = rw.sum - int64(oldValue) + int64(value)
		rw.index = (rw.index + 1) % rw.windowSize
	}
}

func (rw *RollingWindow) Size() int {
	return rw.count
}

func (rw *RollingWindow) Capacity() int {
	return rw.windowSize
}

// Mean is the arithmetic mean of the window. Callers must not ask for the
// mean of an empty window; it returns NaN.
func (rw *RollingWindow) Mean() float64 {
	if rw.count == 0 {
		return math.NaN()
	}
	return float64(rw.sum) / float64(rw.count)
}

// StdDev is the population standard deviation around mean (divides by N).
func (rw *RollingWindow) StdDev(mean float64) float64 {
	if rw.count == 0 {
		return math.NaN()
	}

	var variance float64
	for i := 0; i < rw.count; i++ {
		diff := float64(rw.values[i]) - mean
		variance += diff * diff
	}

	variance /= float64(rw.count)
	return math.Sqrt(variance)
}

// Values returns a copy of the window contents, oldest first.
func (rw *RollingWindow) Values() []int {
	out := make([]int, 0, rw.count)
	if rw.count < rw.windowSize {
		return append(out, rw.values[:rw.count]...)
	}
	out = append(out, rw.values[rw.index:]...)
	return append(out, rw.values[:rw.index]...)
}

func (rw *RollingWindow) Reset() {
	clear(rw.values)
	rw.index = 0
	rw.count = 0
	rw.sum = 0
}
