package lmbridge

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy bounds the bridge's retries on transient failures.
type BackoffStrategy struct {
	MaxRetries int
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
}

// DefaultBackoff is six attempts starting at 500ms, doubling, capped at 16s.
func DefaultBackoff() BackoffStrategy {
	return BackoffStrategy{
		MaxRetries: 6,
		Initial:    500 * time.Millisecond,
		Factor:     2.0,
		Max:        16 * time.Second,
	}
}

// Delay is min(ceil(initial * factor^attempt), max), in whole milliseconds.
func (s BackoffStrategy) Delay(attempt int) time.Duration {
	initialMs := float64(s.Initial) / float64(time.Millisecond)
	maxMs := float64(s.Max) / float64(time.Millisecond)
	ms := math.Min(math.Ceil(initialMs*math.Pow(s.Factor, float64(attempt))), maxMs)
	return time.Duration(ms) * time.Millisecond
}

// Sleep is the randomized wait before retrying attempt: half of Delay plus
// a uniform jitter in [0, half).
func (s BackoffStrategy) Sleep(attempt int) time.Duration {
	half := s.Delay(attempt) / 2
	if half <= 0 {
		return 0
	}
	return half + time.Duration(rand.Int64N(int64(half)))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
