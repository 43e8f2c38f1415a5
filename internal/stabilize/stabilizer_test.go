package stabilize_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/attune/internal/stabilize"
	"github.com/MrWong99/attune/pkg/asr"
)

func TestAddHypothesis_SingleHypothesisClaimsNothing(t *testing.T) {
	t.Parallel()

	s := stabilize.New()

	if got := s.AddHypothesis("What is", nil); got != "" {
		t.Errorf("AddHypothesis with one queued hypothesis: stable=%q, want empty", got)
	}
}

func TestAddHypothesis_GrowingPrefix(t *testing.T) {
	t.Parallel()

	s := stabilize.New()

	s.AddHypothesis("What is", nil)
	if got := s.AddHypothesis("What is a", nil); got != "What is" {
		t.Errorf("stable=%q, want %q", got, "What is")
	}
	// The default window of three still holds "What is", which caps the
	// prefix shared by every queued hypothesis.
	if got := s.AddHypothesis("What is a lock", nil); got != "What is" {
		t.Errorf("stable=%q, want %q", got, "What is")
	}
}

func TestAddHypothesis_NeverShortens(t *testing.T) {
	t.Parallel()

	s := stabilize.New(stabilize.WithWindowSize(2))

	s.AddHypothesis("the quick brown fox", nil)
	stable := s.AddHypothesis("the quick brown fox jumps", nil)
	if stable != "the quick brown fox" {
		t.Fatalf("stable=%q, want %q", stable, "the quick brown fox")
	}

	// A divergent revision shrinks the window LCP, but the previous claim
	// must be retained.
	if got := s.AddHypothesis("the quiet one", nil); got != stable {
		t.Errorf("stable after divergence=%q, want retained %q", got, stable)
	}
}

func TestAddHypothesis_LongerDivergingClaimDiscarded(t *testing.T) {
	t.Parallel()

	s := stabilize.New(stabilize.WithWindowSize(2))

	s.AddHypothesis("what is the", nil)
	stable := s.AddHypothesis("what is the", nil)
	if stable != "what is the" {
		t.Fatalf("stable=%q, want %q", stable, "what is the")
	}

	// The window now agrees on a byte-longer text that disagrees with an
	// already-stabilized token. The prior claim must be retained.
	s.AddHypothesis("what is a much longer clause", nil)
	got := s.AddHypothesis("what is a much longer clause", nil)
	if got != stable {
		t.Errorf("stable=%q, want retained %q (diverging claim discarded)", got, stable)
	}
}

func TestAddHypothesis_WordBoundaryGuardsExtension(t *testing.T) {
	t.Parallel()

	s := stabilize.New(stabilize.WithWindowSize(2))

	s.AddHypothesis("what is", nil)
	stable := s.AddHypothesis("what is", nil)
	if stable != "what is" {
		t.Fatalf("stable=%q, want %q", stable, "what is")
	}

	// "what island" shares "what is" as a byte prefix but rewrites the
	// second token; it must not replace the claim.
	s.AddHypothesis("what island", nil)
	got := s.AddHypothesis("what island", nil)
	if got != stable {
		t.Errorf("stable=%q, want retained %q (mid-token extension rejected)", got, stable)
	}
}

func TestAddHypothesis_MonotonicPrefixLaw(t *testing.T) {
	t.Parallel()

	s := stabilize.New()

	inputs := []string{
		"what",
		"what is",
		"what is a",
		"what is a lock",
		"what if",
		"what is a lock statement",
		"what is a lock statement used",
	}

	prev := ""
	for _, in := range inputs {
		cur := s.AddHypothesis(in, nil)
		if len(cur) < len(prev) {
			t.Fatalf("stable shortened: %q -> %q after %q", prev, cur, in)
		}
		if !strings.HasPrefix(cur, prev) {
			t.Fatalf("stable %q is not an extension of %q after %q", cur, prev, in)
		}
		prev = cur
	}
}

func TestAddHypothesis_EmptyTextIsNoOp(t *testing.T) {
	t.Parallel()

	s := stabilize.New()
	s.AddHypothesis("hello there", nil)
	s.AddHypothesis("hello there friend", nil)
	want := s.StableText()

	if got := s.AddHypothesis("   ", nil); got != want {
		t.Errorf("AddHypothesis(whitespace): stable=%q, want %q", got, want)
	}
}

func TestCommitFinal_AppendsAndClearsWindow(t *testing.T) {
	t.Parallel()

	s := stabilize.New()

	s.AddHypothesis("what is a lock", nil)
	s.AddHypothesis("what is a lock statement", nil)

	committed := s.CommitFinal("What is a lock statement")
	if committed != "What is a lock statement" {
		t.Fatalf("CommitFinal: committed=%q", committed)
	}
	if got := s.StableText(); got != committed {
		t.Errorf("after CommitFinal: stable=%q, want committed %q", got, committed)
	}

	// The window was cleared: a single new partial claims nothing beyond
	// the committed text.
	if got := s.AddHypothesis("used for", nil); got != committed {
		t.Errorf("first partial after final: stable=%q, want %q", got, committed)
	}

	committed = s.CommitFinal("used for in C#?")
	want := "What is a lock statement used for in C#?"
	if committed != want {
		t.Errorf("second CommitFinal: committed=%q, want %q", committed, want)
	}
}

func TestCommitFinal_PartialsExtendCommitted(t *testing.T) {
	t.Parallel()

	s := stabilize.New()

	s.CommitFinal("hello world")
	s.AddHypothesis("how are", nil)
	got := s.AddHypothesis("how are you", nil)
	want := "hello world how are"
	if got != want {
		t.Errorf("stable=%q, want %q", got, want)
	}
}

func TestCommitFinal_EmptyTextOnlyClearsWindow(t *testing.T) {
	t.Parallel()

	s := stabilize.New()
	s.CommitFinal("keep this")

	if got := s.CommitFinal("  "); got != "keep this" {
		t.Errorf("CommitFinal(whitespace): committed=%q, want %q", got, "keep this")
	}
}

func TestConfidenceGate_StopsAtLowConfidenceWord(t *testing.T) {
	t.Parallel()

	s := stabilize.New(stabilize.WithMinWordConfidence(0.5))

	words := []asr.WordDetail{
		{Word: "repeat", Confidence: 0.9},
		{Word: "number", Confidence: 0.3},
		{Word: "three", Confidence: 0.8},
	}
	s.AddHypothesis("repeat number three", words)
	got := s.AddHypothesis("repeat number three", words)

	if got != "repeat" {
		t.Errorf("stable=%q, want %q (prefix stops at low-confidence word)", got, "repeat")
	}
}

func TestConfidenceGate_RepetitionRescuesLowConfidenceWord(t *testing.T) {
	t.Parallel()

	s := stabilize.New(
		stabilize.WithMinWordConfidence(0.5),
		stabilize.WithRepetitionGate(true),
	)

	words := []asr.WordDetail{
		{Word: "repeat", Confidence: 0.9},
		{Word: "number", Confidence: 0.3},
		{Word: "three", Confidence: 0.8},
	}
	// "number" is low confidence but appears in both hypotheses, so the
	// repetition gate lets it through.
	s.AddHypothesis("repeat number three", words)
	got := s.AddHypothesis("repeat number three", words)

	if got != "repeat number three" {
		t.Errorf("stable=%q, want %q", got, "repeat number three")
	}
}

func TestConfidenceGate_IgnoredWithoutWordDetail(t *testing.T) {
	t.Parallel()

	s := stabilize.New(stabilize.WithMinWordConfidence(0.9))

	s.AddHypothesis("no detail here", nil)
	got := s.AddHypothesis("no detail here", nil)
	if got != "no detail here" {
		t.Errorf("stable=%q, want %q (gate needs word detail)", got, "no detail here")
	}
}

func TestWindowEviction(t *testing.T) {
	t.Parallel()

	s := stabilize.New(stabilize.WithWindowSize(2))

	// With window size 2, only the last two hypotheses matter.
	s.AddHypothesis("alpha beta", nil)
	s.AddHypothesis("gamma delta", nil)
	got := s.AddHypothesis("gamma delta epsilon", nil)
	if got != "gamma delta" {
		t.Errorf("stable=%q, want %q (oldest hypothesis evicted)", got, "gamma delta")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := stabilize.New()
	s.CommitFinal("something")
	s.Reset()

	if got := s.StableText(); got != "" {
		t.Errorf("after Reset: stable=%q, want empty", got)
	}
	if got := s.CommittedText(); got != "" {
		t.Errorf("after Reset: committed=%q, want empty", got)
	}
}
