package dedup_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/attune/internal/dedup"
	"github.com/MrWong99/attune/internal/intent"
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

func intentFor(text string) intent.Intent {
	return intent.Intent{Type: intent.TypeImperative, Subtype: intent.SubtypeRepeat, Confidence: 0.85, SourceText: text}
}

func TestIsDuplicate_ExactRepeat(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now))

	d.Record(intentFor("repeat the last question"))
	if !d.IsDuplicate(intentFor("repeat the last question")) {
		t.Error("exact repeat not flagged as duplicate")
	}
}

func TestIsDuplicate_PunctuationAndCaseInsensitive(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now))

	d.Record(intentFor("Stop"))
	if !d.IsDuplicate(intentFor("stop!")) {
		t.Error("\"stop!\" not flagged as duplicate of \"Stop\"")
	}
	if !d.IsDuplicate(intentFor("Stop.")) {
		t.Error("\"Stop.\" not flagged as duplicate of \"Stop\"")
	}
}

func TestIsDuplicate_NearMatchAboveJaccardThreshold(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now))

	d.Record(intentFor("generate five questions about go testing"))
	// 5 of 6 tokens shared: Jaccard 5/7 ≈ 0.71 >= 0.7.
	if !d.IsDuplicate(intentFor("generate six questions about go testing")) {
		t.Error("near-identical text not flagged as duplicate")
	}
}

func TestIsDuplicate_DistinctTextPasses(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now))

	d.Record(intentFor("repeat the last question"))
	if d.IsDuplicate(intentFor("what is a goroutine")) {
		t.Error("unrelated text flagged as duplicate")
	}
}

func TestIsDuplicate_ExpiresAfterWindow(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now), dedup.WithWindow(30*time.Second))

	d.Record(intentFor("continue"))
	clk.Advance(31 * time.Second)
	if d.IsDuplicate(intentFor("continue")) {
		t.Error("expired entry still flagged as duplicate")
	}
}

func TestIsDuplicate_WithinWindow(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now), dedup.WithWindow(30*time.Second))

	d.Record(intentFor("continue"))
	clk.Advance(29 * time.Second)
	if !d.IsDuplicate(intentFor("continue")) {
		t.Error("entry inside window not flagged as duplicate")
	}
}

func TestRecord_SupersetReplacesRetainedEntry(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now))

	d.Record(intentFor("repeat number"))
	d.Record(intentFor("repeat number three please"))

	// The longer form replaced the shorter one rather than stacking a
	// second entry, so the most complete form is what later texts match.
	if !d.IsDuplicate(intentFor("repeat number three please")) {
		t.Error("most complete form not retained")
	}
}

func TestRecord_CapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now), dedup.WithCapacity(3))

	d.Record(intentFor("alpha bravo charlie delta"))
	for i := range 3 {
		d.Record(intentFor(fmt.Sprintf("filler entry number %d with padding words", i)))
	}

	if d.IsDuplicate(intentFor("alpha bravo charlie delta")) {
		t.Error("oldest entry should have been evicted at capacity")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := dedup.New(dedup.WithClock(clk.Now))

	d.Record(intentFor("stop"))
	d.Reset()
	if d.IsDuplicate(intentFor("stop")) {
		t.Error("entry survived Reset")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Stop!", "stop"},
		{"  Repeat   number 3.  ", "repeat number 3"},
		{"What's a mutex?", "what s a mutex"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := dedup.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
