// Package utterance segments the stabilized ASR stream into bounded
// utterances.
//
// The [Builder] is a two-state machine: it is Idle until the first non-empty
// ASR event opens an utterance, then Active until exactly one of six close
// conditions fires, at which point the finished [Utterance] is emitted and
// the builder returns to Idle. Closing races (timeout checker vs. external
// signal vs. the ASR pump) are resolved by a compare-and-swap on the current
// utterance slot, so exactly one closure succeeds.
package utterance

import "time"

// CloseReason identifies which close condition ended an utterance.
type CloseReason string

const (
	// CloseSilenceGap fires when no ASR event arrived for the configured
	// silence gap.
	CloseSilenceGap CloseReason = "silence_gap"

	// CloseTerminalPunctuation fires when the raw text ends with terminal
	// punctuation and the (shorter) punctuation pause has elapsed.
	CloseTerminalPunctuation CloseReason = "terminal_punctuation"

	// CloseMaxDuration fires when the utterance has been open for at least
	// the configured maximum lifetime.
	CloseMaxDuration CloseReason = "max_duration"

	// CloseMaxLength fires when the raw text reaches the configured maximum
	// length in bytes.
	CloseMaxLength CloseReason = "max_length"

	// CloseExternalSignal fires when the caller reports an end-of-turn from
	// the ASR backend via [Builder.SignalUtteranceEnd].
	CloseExternalSignal CloseReason = "external_signal"

	// CloseManual fires when the caller invokes [Builder.ForceClose].
	CloseManual CloseReason = "manual"
)

// Utterance is a finished, immutable span of speech. Subscribers receive it
// by value; the builder discards its own copy after emission.
type Utterance struct {
	// ID is unique and strictly increasing across utterances of one Builder.
	ID uint64

	// OpenedAt is when the first contributing ASR event arrived.
	OpenedAt time.Time

	// ClosedAt is when the close condition fired. Always >= OpenedAt.
	ClosedAt time.Time

	// CommittedText is the concatenation of all final ASR segments.
	CommittedText string

	// StableText is the committed text extended by the stabilizer's current
	// agreed prefix. Falls back to RawText when both are empty.
	StableText string

	// RawText is the most complete text observed, including the latest
	// unconfirmed partial.
	RawText string

	// SpeakerID is the diarized speaker of the opening event, if any.
	SpeakerID string

	// CloseReason records which close condition fired.
	CloseReason CloseReason

	// CommittedAsrTimestamps lists the receipt times of the final ASR
	// events that contributed to CommittedText. Nil when no finals arrived.
	CommittedAsrTimestamps []time.Time
}

// Snapshot is a read-only view of the in-progress utterance, emitted on
// every update.
type Snapshot struct {
	ID         uint64
	StableText string
	RawText    string
	UpdatedAt  time.Time
}

// OpenInfo describes a freshly opened utterance.
type OpenInfo struct {
	ID        uint64
	OpenedAt  time.Time
	SpeakerID string
}
