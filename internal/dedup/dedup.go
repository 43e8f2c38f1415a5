// Package dedup suppresses re-emission of near-identical intents within a
// sliding time window.
//
// ASR backends love to re-finalize: a speaker's "stop" may surface as "Stop",
// "stop." and "Stop!" across consecutive utterances, and a re-spoken command
// should not re-fire downstream actions. Texts are normalized (lowercased,
// punctuation stripped, whitespace collapsed) and compared with Jaccard
// similarity over their token sets. Very short texts make token-set overlap
// degenerate (a single flipped word swings Jaccard from 1.0 to 0.33), so
// those are additionally compared with Jaro-Winkler string similarity, the
// same metric the rest of this codebase uses for fuzzy text alignment.
//
// All methods are safe for concurrent use.
package dedup

import (
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/attune/internal/intent"
)

// Defaults for the retention window, similarity threshold, and history
// capacity.
const (
	DefaultWindow              = 30 * time.Second
	DefaultSimilarityThreshold = 0.7
	DefaultCapacity            = 50

	// shortTextTokenLimit is the token count at or below which the
	// Jaro-Winkler fallback applies.
	shortTextTokenLimit = 2

	// jaroWinklerThreshold is the string-similarity floor for the
	// short-text fallback.
	jaroWinklerThreshold = 0.92
)

// Option is a functional option for configuring a [Deduplicator].
type Option func(*Deduplicator)

// WithWindow sets the retention window for duplicate detection. Non-positive
// values fall back to the default.
func WithWindow(d time.Duration) Option {
	return func(dd *Deduplicator) {
		if d > 0 {
			dd.window = d
		}
	}
}

// WithSimilarityThreshold sets the Jaccard similarity floor above which two
// texts count as duplicates. Out-of-range values are clamped to [0, 1].
func WithSimilarityThreshold(threshold float64) Option {
	return func(dd *Deduplicator) {
		dd.threshold = min(max(threshold, 0), 1)
	}
}

// WithCapacity caps the number of retained entries. Non-positive values fall
// back to the default.
func WithCapacity(n int) Option {
	return func(dd *Deduplicator) {
		if n > 0 {
			dd.capacity = n
		}
	}
}

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(dd *Deduplicator) {
		if clock != nil {
			dd.clock = clock
		}
	}
}

// Deduplicator tracks recently emitted intents by normalized source text.
type Deduplicator struct {
	window    time.Duration
	threshold float64
	capacity  int
	clock     func() time.Time

	mu      sync.Mutex
	entries []entry
}

type entry struct {
	normalized string
	tokens     map[string]struct{}
	emittedAt  time.Time
}

// New returns a Deduplicator configured with the supplied options.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		window:    DefaultWindow,
		threshold: DefaultSimilarityThreshold,
		capacity:  DefaultCapacity,
		clock:     time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// IsDuplicate reports whether in's normalized source text matches a retained
// entry within the window. Expired entries are pruned first.
func (d *Deduplicator) IsDuplicate(in intent.Intent) bool {
	normalized := Normalize(in.SourceText)
	if normalized == "" {
		return false
	}
	tokens := tokenSet(normalized)
	now := d.clock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune(now)

	for _, e := range d.entries {
		if jaccard(tokens, e.tokens) >= d.threshold {
			return true
		}
		if len(tokens) <= shortTextTokenLimit || len(e.tokens) <= shortTextTokenLimit {
			if matchr.JaroWinkler(normalized, e.normalized, false) >= jaroWinklerThreshold {
				return true
			}
		}
	}
	return false
}

// Record remembers in's normalized source text. When the new text contains a
// retained entry as a substring, that entry is replaced so the history holds
// the most complete form.
func (d *Deduplicator) Record(in intent.Intent) {
	normalized := Normalize(in.SourceText)
	if normalized == "" {
		return
	}
	now := d.clock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune(now)

	e := entry{normalized: normalized, tokens: tokenSet(normalized), emittedAt: now}

	for i, old := range d.entries {
		if strings.Contains(normalized, old.normalized) {
			d.entries[i] = e
			return
		}
	}

	d.entries = append(d.entries, e)
	if len(d.entries) > d.capacity {
		d.entries = d.entries[len(d.entries)-d.capacity:]
	}
}

// Reset discards all retained entries.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	d.entries = nil
	d.mu.Unlock()
}

// prune drops entries older than the window. Must be called with d.mu held.
func (d *Deduplicator) prune(now time.Time) {
	cutoff := now.Add(-d.window)
	kept := d.entries[:0]
	for _, e := range d.entries {
		if !e.emittedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	d.entries = kept
}

// Normalize lowercases s, strips everything but letters, digits, and spaces,
// and collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r >= 0x80 && !isPunctRune(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// isPunctRune reports whether r is non-letter punctuation outside ASCII.
func isPunctRune(r rune) bool {
	switch r {
	case '‘', '’', '“', '”', '–', '—', '…':
		return true
	}
	return false
}

// tokenSet splits a normalized string into its set of tokens.
func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard computes |A ∩ B| / |A ∪ B| over two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
