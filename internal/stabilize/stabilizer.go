// Package stabilize extracts monotonically growing stable text from a stream
// of revising ASR hypotheses.
//
// Speech-to-text backends emit overlapping interim hypotheses that mutate
// freely until a final result commits them. The [Stabilizer] keeps a bounded
// FIFO window of recent hypotheses and claims as "stable" the longest
// word-level common prefix across the window: text that every recent
// hypothesis agrees on. Stable text never shortens and never diverges: when
// a later window yields a shorter prefix, or a longer one that disagrees
// with already-stabilized tokens, the previous claim is retained.
//
// An optional per-word confidence gate excludes low-confidence words from the
// prefix, either outright or unless the word has been seen in at least two
// hypotheses in the window.
//
// All methods are safe for concurrent use.
package stabilize

import (
	"strings"
	"sync"

	"github.com/MrWong99/attune/pkg/asr"
)

const defaultWindowSize = 3

// Option is a functional option for configuring a [Stabilizer].
type Option func(*Stabilizer)

// WithWindowSize sets the maximum number of hypotheses held in the LCP
// window. Values below 2 fall back to the default of 3.
func WithWindowSize(n int) Option {
	return func(s *Stabilizer) {
		if n >= 2 {
			s.windowSize = n
		}
	}
}

// WithMinWordConfidence sets the per-word confidence gate. Words below the
// threshold do not participate in the stable prefix. Zero disables the gate;
// out-of-range values are clamped to [0, 1].
func WithMinWordConfidence(threshold float64) Option {
	return func(s *Stabilizer) {
		s.minWordConfidence = min(max(threshold, 0), 1)
	}
}

// WithRepetitionGate allows a low-confidence word to participate in the
// stable prefix when it appears in at least two hypotheses in the window.
func WithRepetitionGate(enabled bool) Option {
	return func(s *Stabilizer) {
		s.requireRepetition = enabled
	}
}

// Stabilizer computes stable text from a window of recent ASR hypotheses.
type Stabilizer struct {
	windowSize        int
	minWordConfidence float64
	requireRepetition bool

	mu        sync.Mutex
	window    []hypothesis
	committed string
	stable    string
}

// hypothesis is one queued ASR result. confidences is nil when the producer
// supplied no per-word detail, in which case the confidence gate does not
// apply to this hypothesis.
type hypothesis struct {
	tokens      []string
	confidences []float64
}

// New returns a Stabilizer configured with the supplied options.
func New(opts ...Option) *Stabilizer {
	s := &Stabilizer{windowSize: defaultWindowSize}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddHypothesis enqueues an interim hypothesis and returns the new stable
// text. words may be nil; when supplied and aligned with the tokens of text,
// per-word confidences feed the confidence gate.
//
// Empty or whitespace-only text is a no-op and returns the current stable
// text unchanged.
func (s *Stabilizer) AddHypothesis(text string, words []asr.WordDetail) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stable
	}

	var confidences []float64
	if len(words) == len(tokens) {
		confidences = make([]float64, len(words))
		for i, w := range words {
			confidences[i] = min(max(w.Confidence, 0), 1)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, hypothesis{tokens: tokens, confidences: confidences})
	if len(s.window) > s.windowSize {
		s.window = s.window[1:]
	}

	lcp := s.commonPrefix()
	candidate := s.committed
	if len(lcp) > 0 {
		joined := strings.Join(lcp, " ")
		if candidate != "" {
			candidate += " " + joined
		} else {
			candidate = joined
		}
	}

	// Stable text never shortens and only ever extends along the agreed
	// prefix; a byte-longer claim that diverges from the prior one is
	// discarded.
	if len(candidate) > len(s.stable) && extendsPrefix(candidate, s.stable) {
		s.stable = candidate
	}
	return s.stable
}

// extendsPrefix reports whether next extends prev at a word boundary, so a
// replacement claim keeps every previously stabilized token intact.
func extendsPrefix(next, prev string) bool {
	if prev == "" {
		return true
	}
	if !strings.HasPrefix(next, prev) {
		return false
	}
	return len(next) == len(prev) || next[len(prev)] == ' '
}

// CommitFinal appends a finalized ASR segment to the committed text, clears
// the hypothesis window so the next partials start a fresh prefix
// computation, and resets stable text to the committed text. It returns the
// new committed text.
//
// Empty or whitespace-only text only clears the window.
func (s *Stabilizer) CommitFinal(text string) string {
	trimmed := strings.TrimSpace(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = nil
	if trimmed != "" {
		if s.committed != "" {
			s.committed += " " + trimmed
		} else {
			s.committed = trimmed
		}
	}
	s.stable = s.committed
	return s.committed
}

// StableText returns the current stable text claim.
func (s *Stabilizer) StableText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stable
}

// CommittedText returns the concatenation of all finalized segments.
func (s *Stabilizer) CommittedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Reset discards all window, committed, and stable state.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = nil
	s.committed = ""
	s.stable = ""
}

// commonPrefix computes the word-level longest common prefix over the queued
// hypotheses, applying the confidence gate. With fewer than two hypotheses
// queued there is no stability claim yet and the prefix is empty.
//
// Must be called with s.mu held.
func (s *Stabilizer) commonPrefix() []string {
	if len(s.window) < 2 {
		return nil
	}

	shortest := len(s.window[0].tokens)
	for _, h := range s.window[1:] {
		if len(h.tokens) < shortest {
			shortest = len(h.tokens)
		}
	}

	var occurrences map[string]int
	if s.minWordConfidence > 0 && s.requireRepetition {
		occurrences = s.countOccurrences()
	}

	newest := s.window[len(s.window)-1]
	prefix := make([]string, 0, shortest)

	for i := 0; i < shortest; i++ {
		word := newest.tokens[i]
		agreed := true
		for _, h := range s.window {
			if !strings.EqualFold(h.tokens[i], word) {
				agreed = false
				break
			}
			if !s.wordPasses(h, i, occurrences) {
				agreed = false
				break
			}
		}
		if !agreed {
			// The stable prefix stops at the first disagreement or
			// rejected word.
			break
		}
		prefix = append(prefix, word)
	}
	return prefix
}

// wordPasses applies the confidence gate to token i of hypothesis h.
func (s *Stabilizer) wordPasses(h hypothesis, i int, occurrences map[string]int) bool {
	if s.minWordConfidence <= 0 || h.confidences == nil {
		return true
	}
	if h.confidences[i] >= s.minWordConfidence {
		return true
	}
	if s.requireRepetition && occurrences[strings.ToLower(h.tokens[i])] >= 2 {
		return true
	}
	return false
}

// countOccurrences counts, per lowercased word, how many hypotheses in the
// window contain it at least once. Must be called with s.mu held.
func (s *Stabilizer) countOccurrences() map[string]int {
	counts := make(map[string]int)
	for _, h := range s.window {
		seen := make(map[string]struct{}, len(h.tokens))
		for _, tok := range h.tokens {
			seen[strings.ToLower(tok)] = struct{}{}
		}
		for w := range seen {
			counts[w]++
		}
	}
	return counts
}
