// Package asr defines the input contract between external speech-to-text
// backends and the utterance-intent pipeline.
//
// The pipeline never talks to an ASR vendor directly. Producers (a WebSocket
// transcript feed, a local recognizer, a replayed test fixture) convert their
// native results into [Event] values and push them into the pipeline. Both
// partial (interim) and final results use the same type, distinguished by
// [Event.IsFinal].
package asr

import "time"

// Event is a single speech-to-text result delivered to the pipeline.
type Event struct {
	// Text is the transcribed speech content. Empty text is allowed and is
	// treated as a no-op by the pipeline.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) result. Non-final results may arbitrarily revise earlier
	// non-final ones; finals are committed in receipt order.
	IsFinal bool

	// ReceivedAt marks when the result was received from the backend.
	// A zero value is replaced by the pipeline's clock on arrival.
	ReceivedAt time.Time

	// SpeakerID identifies the speaker when diarization is active.
	// May be empty.
	SpeakerID string

	// Words contains per-word detail when the backend supports it.
	// May be nil. When present, the words joined with single spaces
	// reproduce Text.
	Words []WordDetail
}

// WordDetail holds per-word metadata from ASR backends that support it.
type WordDetail struct {
	Word       string
	Confidence float64
}

// JoinWords concatenates the word texts with single spaces. Producers can use
// it to verify the Words/Text consistency contract.
func JoinWords(words []WordDetail) string {
	if len(words) == 0 {
		return ""
	}
	n := len(words) - 1
	for _, w := range words {
		n += len(w.Word)
	}
	buf := make([]byte, 0, n)
	for i, w := range words {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, w.Word...)
	}
	return string(buf)
}
