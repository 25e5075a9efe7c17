package queue

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls requeue spacing after a retryable stage failure.
type RetryPolicy struct {
	MinBackoff time.Duration // default 2s
	MaxBackoff time.Duration // default 2m
	JitterFrac float64       // default 0.20
}

// ComputeBackoff doubles the delay per attempt up to the cap, then spreads
// it with jitter so a burst of failures does not requeue in lockstep.
func ComputeBackoff(p RetryPolicy, attempts int) time.Duration {
	minB := p.MinBackoff
	maxB := p.MaxBackoff
	j := p.JitterFrac
	if minB <= 0 {
		minB = 2 * time.Second
	}
	if maxB <= 0 {
		maxB = 2 * time.Minute
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}
