package queue

import (
	"math"
	"time"
)

// BackoffType names a retry delay strategy.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff computes the delay before a retry.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
	Max   time.Duration `json:"max,omitempty"`
}

// DefaultBackoff is exponential with a 2s base.
var DefaultBackoff = Backoff{Type: BackoffExponential, Delay: 2 * time.Second, Max: 5 * time.Minute}

// Wait returns the delay before retry number attempt (1-indexed). For
// exponential backoff it is Delay * 2^(attempt-1), capped at Max.
func (b Backoff) Wait(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch b.Type {
	case BackoffFixed:
		d = b.Delay
	default:
		d = time.Duration(float64(b.Delay) * math.Pow(2, float64(attempt-1)))
	}

	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
