// Package stats provides the bounded sample buffers backing RTT history and
// the population baseline.
package stats

import (
	"sort"
)

// minMedianSamples is the floor below which a median has no statistical
// basis and Median reports 0.
const minMedianSamples = 3

// Ring is a fixed-capacity FIFO buffer of float64 samples. Pushing beyond
// capacity evicts the oldest sample. The zero value is not usable; construct
// with NewRing.
type Ring struct {
	capacity int
	values   []float64
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		capacity: capacity,
		values:   make([]float64, 0, capacity),
	}
}

// Push appends a sample, evicting the oldest one once the ring is full.
func (r *Ring) Push(v float64) {
	if len(r.values) == r.capacity {
		copy(r.values, r.values[1:])
		r.values = r.values[:len(r.values)-1]
	}
	r.values = append(r.values, v)
}

func (r *Ring) Len() int {
	return len(r.values)
}

// Values returns a copy of the buffered samples in insertion order.
func (r *Ring) Values() []float64 {
	out := make([]float64, len(r.values))
	copy(out, r.values)
	return out
}

// Median returns the true median of the buffered samples, or 0 when fewer
// than three samples are present. Sorting happens on a snapshot so the
// insertion order of the live buffer is never disturbed.
func (r *Ring) Median() float64 {
	n := len(r.values)
	if n < minMedianSamples {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, r.values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Mean returns the arithmetic mean of the buffered samples, or 0 when empty.
func (r *Ring) Mean() float64 {
	if len(r.values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.values {
		sum += v
	}
	return sum / float64(len(r.values))
}

// Last returns the most recently pushed sample, or 0 when empty.
func (r *Ring) Last() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return r.values[len(r.values)-1]
}
