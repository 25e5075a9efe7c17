package queue

import (
	"testing"
	"time"
)

func TestComputeBackoffGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{MinBackoff: time.Second, MaxBackoff: 8 * time.Second, JitterFrac: 0.2}

	within := func(d, center time.Duration) bool {
		low := time.Duration(float64(center) * 0.8)
		high := time.Duration(float64(center) * 1.2)
		return d >= low && d <= high
	}

	if d := ComputeBackoff(p, 1); !within(d, time.Second) {
		t.Fatalf("attempt 1: %v not within jitter of 1s", d)
	}
	if d := ComputeBackoff(p, 3); !within(d, 4*time.Second) {
		t.Fatalf("attempt 3: %v not within jitter of 4s", d)
	}
	// Past the cap the center stays at MaxBackoff.
	if d := ComputeBackoff(p, 10); !within(d, 8*time.Second) {
		t.Fatalf("attempt 10: %v not within jitter of the 8s cap", d)
	}
}

func TestComputeBackoffDefaults(t *testing.T) {
	d := ComputeBackoff(RetryPolicy{}, 0)
	if d <= 0 {
		t.Fatalf("zero-value policy produced %v", d)
	}
	if d > 3*time.Second {
		t.Fatalf("first attempt with defaults produced %v, expected near 2s", d)
	}
}
