package server

import (
	"testing"
	"time"
)

func TestStormDetector_ThresholdAndReset(t *testing.T) {
	d := NewStormDetector(20, 600*time.Second)
	start := time.Unix(1700000000, 0)

	for i := 0; i < 20; i++ {
		if _, storm := d.Observe(start.Add(time.Duration(i) * time.Second)); storm {
			t.Fatalf("Unexpected storm at occurrence %d", i+1)
		}
	}

	count, storm := d.Observe(start.Add(20 * time.Second))
	if !storm || count != 21 {
		t.Errorf("Expected storm with 21 occurrences, got storm=%v count=%d", storm, count)
	}
	if d.Len() != 0 {
		t.Errorf("Expected tracking to reset, got %d", d.Len())
	}

	if _, storm := d.Observe(start.Add(21 * time.Second)); storm {
		t.Error("Expected no storm right after reset")
	}
}

func TestStormDetector_OldOccurrencesExpire(t *testing.T) {
	d := NewStormDetector(20, 600*time.Second)
	start := time.Unix(1700000000, 0)

	// One occurrence a minute never piles up past 10 in the window
	for i := 0; i < 100; i++ {
		if _, storm := d.Observe(start.Add(time.Duration(i) * time.Minute)); storm {
			t.Fatalf("Unexpected storm at minute %d", i)
		}
	}
	if d.Len() > 10 {
		t.Errorf("Expected at most 10 tracked occurrences, got %d", d.Len())
	}
}
