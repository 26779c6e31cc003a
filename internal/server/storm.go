package server

import (
	"sync"
	"time"
)

// StormDetector counts recurrences of one error inside a rolling window
type StormDetector struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	times     []time.Time
}

// NewStormDetector reports a storm once more than threshold occurrences fall within window
func NewStormDetector(threshold int, window time.Duration) *StormDetector {
	return &StormDetector{threshold: threshold, window: window}
}

// Observe records an occurrence at t. When it makes a storm, the count is
// returned with storm=true and tracking starts over.
func (d *StormDetector) Observe(t time.Time) (count int, storm bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.times = append(d.times, t)

	cutoff := t.Add(-d.window)
	keep := 0
	for _, ts := range d.times {
		if ts.After(cutoff) {
			d.times[keep] = ts
			keep++
		}
	}
	d.times = d.times[:keep]

	count = len(d.times)
	if count > d.threshold {
		d.times = nil
		return count, true
	}
	return count, false
}

// Len returns the number of tracked occurrences
func (d *StormDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.times)
}
