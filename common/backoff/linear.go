package backoff

import "time"

// Linear is a backoff.BackOff that waits Step × attempt, capped at Max.
// The zero value waits 200ms, 400ms, ... up to 1s.
type Linear struct {
	Step time.Duration
	Max  time.Duration

	attempt int
}

// NewLinear returns a Linear strategy; non-positive values fall back to 200ms / 1s.
func NewLinear(step, max time.Duration) *Linear {
	return &Linear{Step: step, Max: max}
}

// NextBackOff implements backoff.BackOff.
func (l *Linear) NextBackOff() time.Duration {
	step, max := l.Step, l.Max
	if step <= 0 {
		step = 200 * time.Millisecond
	}
	if max <= 0 {
		max = time.Second
	}
	l.attempt++
	d := step * time.Duration(l.attempt)
	if d > max {
		return max
	}
	return d
}

// Reset implements backoff.BackOff.
func (l *Linear) Reset() { l.attempt = 0 }
