package utterance

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/attune/internal/stabilize"
	"github.com/MrWong99/attune/pkg/asr"
)

// Default close thresholds. Invalid configured values fall back to these.
const (
	DefaultSilenceGapThreshold       = 750 * time.Millisecond
	DefaultPunctuationPauseThreshold = 300 * time.Millisecond
	DefaultMaxUtteranceDuration      = 12 * time.Second
	DefaultMaxUtteranceLength        = 1000
)

// Config configures a [Builder]. Zero or negative durations and lengths are
// replaced by the package defaults.
type Config struct {
	// SilenceGapThreshold closes the utterance after this much idle time
	// without ASR input.
	SilenceGapThreshold time.Duration

	// PunctuationPauseThreshold closes the utterance after this much idle
	// time when the raw text already ends with terminal punctuation. It is
	// expected to be shorter than SilenceGapThreshold so punctuated endings
	// close first.
	PunctuationPauseThreshold time.Duration

	// MaxUtteranceDuration is the hard cap on utterance lifetime.
	MaxUtteranceDuration time.Duration

	// MaxUtteranceLength is the hard cap on raw text length in bytes,
	// checked on every processed event.
	MaxUtteranceLength int

	// Stabilizer supplies stable-text extraction. A default Stabilizer is
	// created when nil.
	Stabilizer *stabilize.Stabilizer

	// Clock returns the current time. Defaults to time.Now. Tests inject a
	// deterministic clock.
	Clock func() time.Time

	// OnOpen, OnUpdate, and OnFinal are invoked synchronously on the
	// calling goroutine. Any of them may be nil. No builder lock is held
	// during the calls.
	OnOpen   func(OpenInfo)
	OnUpdate func(Snapshot)
	OnFinal  func(Utterance)
}

// Builder owns the current utterance and drives its lifecycle.
//
// ProcessAsrEvent and the signal methods are expected to be called from one
// goroutine (the ASR pump); CheckTimeouts may run on a second goroutine (a
// periodic ticker). The current-utterance slot is closed via compare-and-swap
// so a close race resolves to exactly one emitted Final; the loser is a
// no-op.
type Builder struct {
	silenceGap       time.Duration
	punctuationPause time.Duration
	maxDuration      time.Duration
	maxLength        int
	clock            func() time.Time

	onOpen   func(OpenInfo)
	onUpdate func(Snapshot)
	onFinal  func(Utterance)

	stab    *stabilize.Stabilizer
	nextID  atomic.Uint64
	current atomic.Pointer[active]

	// mu serializes state mutation between the ASR pump and the timeout
	// checker. It is never held across subscriber callbacks.
	mu sync.Mutex
}

// active is the mutable state of the in-progress utterance.
type active struct {
	id        uint64
	openedAt  time.Time
	speakerID string

	rawText   string
	lastAsrAt time.Time
	finalsAt  []time.Time
}

// NewBuilder creates a Builder from cfg, applying defaults for unset or
// invalid values.
func NewBuilder(cfg Config) *Builder {
	b := &Builder{
		silenceGap:       cfg.SilenceGapThreshold,
		punctuationPause: cfg.PunctuationPauseThreshold,
		maxDuration:      cfg.MaxUtteranceDuration,
		maxLength:        cfg.MaxUtteranceLength,
		clock:            cfg.Clock,
		onOpen:           cfg.OnOpen,
		onUpdate:         cfg.OnUpdate,
		onFinal:          cfg.OnFinal,
		stab:             cfg.Stabilizer,
	}
	if b.silenceGap <= 0 {
		b.silenceGap = DefaultSilenceGapThreshold
	}
	if b.punctuationPause <= 0 {
		b.punctuationPause = DefaultPunctuationPauseThreshold
	}
	if b.maxDuration <= 0 {
		b.maxDuration = DefaultMaxUtteranceDuration
	}
	if b.maxLength <= 0 {
		b.maxLength = DefaultMaxUtteranceLength
	}
	if b.clock == nil {
		b.clock = time.Now
	}
	if b.stab == nil {
		b.stab = stabilize.New()
	}
	return b
}

// ProcessAsrEvent routes an ASR event into the current utterance, opening one
// if the builder is idle. Partials feed the stabilizer's hypothesis window;
// finals are committed. An update snapshot is emitted for every processed
// event, and the length-based close condition is checked afterwards.
//
// Events with empty or whitespace-only text are absorbed without effect.
func (b *Builder) ProcessAsrEvent(e asr.Event) {
	text := strings.Join(strings.Fields(e.Text), " ")
	if text == "" {
		return
	}

	now := b.clock()
	receivedAt := e.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	b.mu.Lock()

	a := b.current.Load()
	opened := false
	if a == nil {
		a = &active{
			id:        b.nextID.Add(1),
			openedAt:  now,
			speakerID: e.SpeakerID,
			lastAsrAt: receivedAt,
		}
		b.stab.Reset()
		b.current.Store(a)
		opened = true
	}

	a.lastAsrAt = receivedAt

	var raw string
	if e.IsFinal {
		raw = b.stab.CommitFinal(text)
		a.finalsAt = append(a.finalsAt, receivedAt)
	} else {
		b.stab.AddHypothesis(text, e.Words)
		if committed := b.stab.CommittedText(); committed != "" {
			raw = committed + " " + text
		} else {
			raw = text
		}
	}
	// RawText tracks the most complete text observed; a shrinking partial
	// revision does not retract it, while a final resets it to the committed
	// text.
	if e.IsFinal || len(raw) > len(a.rawText) {
		a.rawText = raw
	}
	raw = a.rawText
	stable := b.stab.StableText()
	openInfo := OpenInfo{ID: a.id, OpenedAt: a.openedAt, SpeakerID: a.speakerID}

	b.mu.Unlock()

	if opened && b.onOpen != nil {
		b.onOpen(openInfo)
	}
	if b.onUpdate != nil {
		b.onUpdate(Snapshot{ID: a.id, StableText: stable, RawText: raw, UpdatedAt: now})
	}

	if len(raw) >= b.maxLength {
		b.close(a, CloseMaxLength, now)
	}
}

// SignalUtteranceEnd closes the current utterance with CloseExternalSignal.
// A no-op when the builder is idle.
func (b *Builder) SignalUtteranceEnd() {
	if a := b.current.Load(); a != nil {
		b.close(a, CloseExternalSignal, b.clock())
	}
}

// ForceClose closes the current utterance with CloseManual. A no-op when the
// builder is idle.
func (b *Builder) ForceClose() {
	if a := b.current.Load(); a != nil {
		b.close(a, CloseManual, b.clock())
	}
}

// CheckTimeouts evaluates the time-based close conditions. Punctuation-driven
// close is checked before the silence gap so that (with its shorter
// threshold) punctuated endings close first. Thresholds count as reached at
// exact equality.
func (b *Builder) CheckTimeouts() {
	a := b.current.Load()
	if a == nil {
		return
	}
	now := b.clock()

	b.mu.Lock()
	idle := now.Sub(a.lastAsrAt)
	raw := a.rawText
	b.mu.Unlock()

	switch {
	case endsWithTerminalPunctuation(raw) && idle >= b.punctuationPause:
		b.close(a, CloseTerminalPunctuation, now)
	case idle >= b.silenceGap:
		b.close(a, CloseSilenceGap, now)
	case now.Sub(a.openedAt) >= b.maxDuration:
		b.close(a, CloseMaxDuration, now)
	}
}

// Active reports whether an utterance is currently open.
func (b *Builder) Active() bool {
	return b.current.Load() != nil
}

// Reset discards the current utterance, if any, without emitting a Final,
// and clears the stabilizer. Intended for replay and test setup.
func (b *Builder) Reset() {
	b.mu.Lock()
	b.current.Store(nil)
	b.stab.Reset()
	b.mu.Unlock()
}

// close finalizes a and emits it. The compare-and-swap on the current slot
// guarantees that concurrent close attempts resolve to a single Final; the
// losers return false.
func (b *Builder) close(a *active, reason CloseReason, now time.Time) bool {
	if !b.current.CompareAndSwap(a, nil) {
		return false
	}

	b.mu.Lock()
	raw := a.rawText
	committed := b.stab.CommittedText()
	stable := b.stab.StableText()
	finalsAt := a.finalsAt
	b.stab.Reset()
	b.mu.Unlock()

	if stable == "" {
		stable = raw
	}
	closedAt := now
	if closedAt.Before(a.openedAt) {
		closedAt = a.openedAt
	}

	u := Utterance{
		ID:                     a.id,
		OpenedAt:               a.openedAt,
		ClosedAt:               closedAt,
		CommittedText:          committed,
		StableText:             stable,
		RawText:                raw,
		SpeakerID:              a.speakerID,
		CloseReason:            reason,
		CommittedAsrTimestamps: finalsAt,
	}
	if b.onFinal != nil {
		b.onFinal(u)
	}
	return true
}

// endsWithTerminalPunctuation reports whether s ends with '.', '?', or '!'
// after trailing whitespace is ignored.
func endsWithTerminalPunctuation(s string) bool {
	s = strings.TrimRight(s, " \t\n")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}
