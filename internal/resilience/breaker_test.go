package resilience_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/attune/internal/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func working() error { return nil }

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker("test")
	for range 10 {
		if err := b.Execute(working); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker("test", resilience.WithTripAfter(3))

	for range 3 {
		if err := b.Execute(failing); !errors.Is(err, errBackend) {
			t.Fatalf("Execute: %v, want backend error", err)
		}
	}
	if err := b.Execute(working); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("Execute after trip: %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker("test", resilience.WithTripAfter(3))

	_ = b.Execute(failing)
	_ = b.Execute(failing)
	_ = b.Execute(working)
	_ = b.Execute(failing)
	_ = b.Execute(failing)

	// Only two consecutive failures since the success; still closed.
	if err := b.Execute(working); err != nil {
		t.Fatalf("Execute: %v, want closed breaker", err)
	}
}

func TestBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := resilience.NewBreaker("test",
		resilience.WithTripAfter(1),
		resilience.WithResetTimeout(30*time.Second),
		resilience.WithClock(clk.Now),
	)

	_ = b.Execute(failing)
	if err := b.Execute(working); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("Execute while open: %v, want ErrOpen", err)
	}

	clk.Advance(30 * time.Second)
	if err := b.Execute(working); err != nil {
		t.Fatalf("probe call: %v, want success", err)
	}
	// Closed again: calls flow freely.
	for range 5 {
		if err := b.Execute(working); err != nil {
			t.Fatalf("Execute after close: %v", err)
		}
	}
}

func TestBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	b := resilience.NewBreaker("test",
		resilience.WithTripAfter(1),
		resilience.WithResetTimeout(10*time.Second),
		resilience.WithClock(clk.Now),
	)

	_ = b.Execute(failing)
	clk.Advance(10 * time.Second)
	if err := b.Execute(failing); !errors.Is(err, errBackend) {
		t.Fatalf("probe call: %v, want backend error", err)
	}
	if err := b.Execute(working); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("Execute after failed probe: %v, want ErrOpen", err)
	}
}
