// Package record defines the session-recording interface for the
// utterance-intent pipeline.
//
// A Recorder persists the pipeline's outputs (finished utterances, final
// intents, routed actions) for later review. The pipeline calls it
// best-effort on its own goroutine: implementations should be fast or buffer
// internally, and an error never interrupts event flow.
package record

import (
	"context"
	"time"
)

// UtteranceEntry is the persisted form of a finished utterance.
type UtteranceEntry struct {
	// SessionID groups entries of one run. Assigned by the caller.
	SessionID string

	UtteranceID   uint64
	OpenedAt      time.Time
	ClosedAt      time.Time
	CommittedText string
	StableText    string
	RawText       string
	SpeakerID     string
	CloseReason   string
}

// IntentEntry is the persisted form of a final intent.
type IntentEntry struct {
	SessionID   string
	UtteranceID uint64
	Type        string
	Subtype     string
	Confidence  float64
	SourceText  string
	Topic       string
	Count       int
	Reference   string
	EmittedAt   time.Time
}

// ActionEntry is the persisted form of a routed action.
type ActionEntry struct {
	SessionID    string
	UtteranceID  uint64
	ActionName   string
	SourceText   string
	WasDebounced bool
	Timestamp    time.Time
}

// Recorder persists pipeline outputs.
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	RecordUtterance(ctx context.Context, entry UtteranceEntry) error
	RecordIntent(ctx context.Context, entry IntentEntry) error
	RecordAction(ctx context.Context, entry ActionEntry) error
}

// Nop is a Recorder that discards everything.
type Nop struct{}

// RecordUtterance implements [Recorder].
func (Nop) RecordUtterance(context.Context, UtteranceEntry) error { return nil }

// RecordIntent implements [Recorder].
func (Nop) RecordIntent(context.Context, IntentEntry) error { return nil }

// RecordAction implements [Recorder].
func (Nop) RecordAction(context.Context, ActionEntry) error { return nil }
