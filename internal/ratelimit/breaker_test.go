package ratelimit

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(threshold, cooldown)
	cb.SetClock(clock.Now)
	return cb, clock
}

// =============================================================================
// Circuit Breaker Tests
// =============================================================================

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if cb.State() != CircuitClosed {
			t.Fatalf("circuit should stay closed after %d failures", i+1)
		}
	}
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Fatalf("State = %s, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("open circuit should reject requests")
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	cb.RecordFailure()

	clock.Advance(time.Minute)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("State = %s, want half-open after cooldown", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("first probe should be allowed")
	}
	if cb.Allow() {
		t.Error("only one probe may be in flight")
	}

	t.Run("failed probe reopens", func(t *testing.T) {
		cb.RecordFailure()
		if cb.State() != CircuitOpen {
			t.Errorf("State = %s, want open", cb.State())
		}
	})

	t.Run("successful probe closes", func(t *testing.T) {
		clock.Advance(time.Minute)
		if !cb.Allow() {
			t.Fatal("probe should be allowed after second cooldown")
		}
		cb.RecordSuccess()
		if cb.State() != CircuitClosed || cb.FailureCount() != 0 {
			t.Errorf("State = %s, failures = %d", cb.State(), cb.FailureCount())
		}
	})
}

func TestCircuitBreakerRelease(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.RecordFailure()
	clock.Advance(time.Second)

	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}
	cb.Release()
	if !cb.Allow() {
		t.Error("released probe should admit another")
	}
}

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(0, 0)
	for i := 0; i < DefaultBreakerThreshold-1; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Errorf("should stay closed below default threshold")
	}
	if CircuitHalfOpen.String() != "half-open" || CircuitState(9).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
