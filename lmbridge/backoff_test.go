package lmbridge

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	s := DefaultBackoff()
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second,
	}
	for attempt, w := range want {
		if got := s.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoffDelayRoundsUp(t *testing.T) {
	t.Parallel()

	s := BackoffStrategy{MaxRetries: 3, Initial: 333 * time.Millisecond, Factor: 1.5, Max: time.Minute}
	if got := s.Delay(1); got != 500*time.Millisecond {
		t.Fatalf("Delay(1) = %v, want 500ms", got)
	}
}

func TestBackoffSleepWithinBounds(t *testing.T) {
	t.Parallel()

	s := DefaultBackoff()
	for attempt := 0; attempt < 10; attempt++ {
		delay := s.Delay(attempt)
		for i := 0; i < 200; i++ {
			got := s.Sleep(attempt)
			if got < delay/2 || got > delay || got > s.Max {
				t.Fatalf("Sleep(%d) = %v outside [%v, %v]", attempt, got, delay/2, delay)
			}
		}
	}
}
