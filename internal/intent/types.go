// Package intent classifies utterance text into questions, imperatives, and
// statements, with subtype and slot extraction.
//
// Classification is heuristic: precompiled case-insensitive pattern families
// are evaluated in priority order: imperatives first, then questions, then
// the statement fallback. The ordering matters for phrases like "Can you
// repeat that", which is grammatically a question but semantically an
// imperative.
//
// The same detector serves two call sites with different thresholds:
// [Detector.DetectCandidate] runs on provisional text for early UI hints,
// and [Detector.DetectFinal] runs once on the closed utterance's stable text
// to produce the authoritative classification.
package intent

// Type is the top-level intent classification.
type Type string

const (
	TypeQuestion   Type = "question"
	TypeImperative Type = "imperative"
	TypeStatement  Type = "statement"
	TypeOther      Type = "other"
)

// Subtype refines the intent type. Imperative subtypes map one-to-one to
// routable actions; question subtypes describe the information need.
type Subtype string

const (
	// Imperative subtypes.
	SubtypeStop      Subtype = "Stop"
	SubtypeRepeat    Subtype = "Repeat"
	SubtypeContinue  Subtype = "Continue"
	SubtypeStartOver Subtype = "StartOver"
	SubtypeGenerate  Subtype = "Generate"

	// Question subtypes.
	SubtypeDefinition   Subtype = "Definition"
	SubtypeHowTo        Subtype = "HowTo"
	SubtypeCompare      Subtype = "Compare"
	SubtypeTroubleshoot Subtype = "Troubleshoot"
	SubtypeQuestion     Subtype = "Question"

	// SubtypeNone marks statements and unclassified input.
	SubtypeNone Subtype = ""
)

// Slots holds structured data extracted from the utterance text. Zero values
// mean the slot was not present.
type Slots struct {
	// Topic is the subject of a definition question or a generate command
	// (the text after "about").
	Topic string

	// Count is an extracted integer: the item count of a generate command,
	// or the referenced ordinal of a repeat command.
	Count int

	// Reference is the literal reference phrase of a repeat command, e.g.
	// "number 3".
	Reference string
}

// Intent is an immutable classification result.
type Intent struct {
	Type       Type
	Subtype    Subtype
	Confidence float64
	SourceText string
	Slots      Slots
}

// Detector classifies utterance text. Implementations must be pure with
// respect to their inputs: identical text yields an identical result.
//
// LLM-backed detectors may be plugged in behind this interface; they must
// surface transport failures through their own error reporting rather than
// through the return value.
type Detector interface {
	// DetectFinal returns the authoritative intent for a closed utterance's
	// stable text. Empty input yields TypeOther.
	DetectFinal(text string) Intent

	// DetectCandidate classifies provisional text for early hinting. The
	// second return is false when neither a question nor an imperative
	// reaches the candidate threshold.
	DetectCandidate(text string) (Intent, bool)
}
