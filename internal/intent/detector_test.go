package intent_test

import (
	"testing"

	"github.com/MrWong99/attune/internal/intent"
)

func TestDetectFinal_EmptyInputIsOther(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()
	got := d.DetectFinal("   ")
	if got.Type != intent.TypeOther {
		t.Errorf("DetectFinal(empty): type=%q, want %q", got.Type, intent.TypeOther)
	}
}

func TestDetectFinal_Imperatives(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()

	tests := []struct {
		text    string
		subtype intent.Subtype
	}{
		{"Stop", intent.SubtypeStop},
		{"please stop", intent.SubtypeStop},
		{"cancel that", intent.SubtypeStop},
		{"never mind", intent.SubtypeStop},
		{"nevermind", intent.SubtypeStop},
		{"repeat that", intent.SubtypeRepeat},
		{"say that again", intent.SubtypeRepeat},
		{"what did you say", intent.SubtypeRepeat},
		{"continue", intent.SubtypeContinue},
		{"go on", intent.SubtypeContinue},
		{"next", intent.SubtypeContinue},
		{"proceed", intent.SubtypeContinue},
		{"keep going", intent.SubtypeContinue},
		{"start over", intent.SubtypeStartOver},
		{"from the beginning", intent.SubtypeStartOver},
		{"reset", intent.SubtypeStartOver},
		{"generate 5 questions", intent.SubtypeGenerate},
	}
	for _, tc := range tests {
		got := d.DetectFinal(tc.text)
		if got.Type != intent.TypeImperative {
			t.Errorf("DetectFinal(%q): type=%q, want imperative", tc.text, got.Type)
			continue
		}
		if got.Subtype != tc.subtype {
			t.Errorf("DetectFinal(%q): subtype=%q, want %q", tc.text, got.Subtype, tc.subtype)
		}
		if got.Confidence < 0.4 {
			t.Errorf("DetectFinal(%q): confidence=%.2f, want >= 0.4", tc.text, got.Confidence)
		}
	}
}

func TestDetectFinal_StopConfidence(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()
	got := d.DetectFinal("please stop")
	if got.Confidence < 0.9 {
		t.Errorf("confidence=%.2f, want >= 0.9", got.Confidence)
	}
}

func TestDetectFinal_PoliteWrapperIsImperative(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()

	// Grammatically questions, semantically imperatives.
	for _, text := range []string{
		"Can you repeat that",
		"Could you repeat the last part",
		"Would you continue",
		"please could you go on",
	} {
		got := d.DetectFinal(text)
		if got.Type != intent.TypeImperative {
			t.Errorf("DetectFinal(%q): type=%q, want imperative", text, got.Type)
		}
	}
}

func TestDetectFinal_RepeatSlots(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()
	got := d.DetectFinal("repeat number 3")

	if got.Subtype != intent.SubtypeRepeat {
		t.Fatalf("subtype=%q, want Repeat", got.Subtype)
	}
	if got.Slots.Count != 3 {
		t.Errorf("slots.Count=%d, want 3", got.Slots.Count)
	}
	if got.Slots.Reference != "number 3" {
		t.Errorf("slots.Reference=%q, want %q", got.Slots.Reference, "number 3")
	}
}

func TestDetectFinal_RepeatLineCount(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()
	got := d.DetectFinal("repeat line 12")

	if got.Slots.Count != 12 {
		t.Errorf("slots.Count=%d, want 12", got.Slots.Count)
	}
	if got.Slots.Reference != "" {
		t.Errorf("slots.Reference=%q, want empty for line references", got.Slots.Reference)
	}
}

func TestDetectFinal_GenerateSlots(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()
	got := d.DetectFinal("generate 10 questions about goroutines")

	if got.Subtype != intent.SubtypeGenerate {
		t.Fatalf("subtype=%q, want Generate", got.Subtype)
	}
	if got.Slots.Count != 10 {
		t.Errorf("slots.Count=%d, want 10", got.Slots.Count)
	}
	if got.Slots.Topic != "goroutines" {
		t.Errorf("slots.Topic=%q, want %q", got.Slots.Topic, "goroutines")
	}
}

func TestDetectFinal_Questions(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()

	tests := []struct {
		text    string
		subtype intent.Subtype
	}{
		{"What is a mutex?", intent.SubtypeDefinition},
		{"what's dependency injection", intent.SubtypeDefinition},
		{"define idempotency", intent.SubtypeDefinition},
		{"How do I sort a slice?", intent.SubtypeHowTo},
		{"how should I structure this package", intent.SubtypeHowTo},
		{"What is the difference between a mutex and a channel?", intent.SubtypeDefinition},
		{"channels vs mutexes?", intent.SubtypeCompare},
		{"Why isn't the server responding?", intent.SubtypeTroubleshoot},
		{"I keep getting an error?", intent.SubtypeTroubleshoot},
		{"Is this thread safe?", intent.SubtypeQuestion},
		{"Should we use generics here?", intent.SubtypeQuestion},
	}
	for _, tc := range tests {
		got := d.DetectFinal(tc.text)
		if got.Type != intent.TypeQuestion {
			t.Errorf("DetectFinal(%q): type=%q, want question", tc.text, got.Type)
			continue
		}
		if got.Subtype != tc.subtype {
			t.Errorf("DetectFinal(%q): subtype=%q, want %q", tc.text, got.Subtype, tc.subtype)
		}
	}
}

func TestDetectFinal_QuestionConfidence(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()

	// Terminal '?': base 0.8.
	if got := d.DetectFinal("Is it done?"); got.Confidence < 0.8 {
		t.Errorf("question-mark confidence=%.2f, want >= 0.8", got.Confidence)
	}
	// Sentence-initial WH without '?': base 0.5.
	got := d.DetectFinal("where does the config live")
	if got.Type != intent.TypeQuestion {
		t.Fatalf("type=%q, want question", got.Type)
	}
	if got.Confidence < 0.5 || got.Confidence >= 0.8 {
		t.Errorf("WH-only confidence=%.2f, want in [0.5, 0.8)", got.Confidence)
	}
}

func TestDetectFinal_DefinitionTopic(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()
	got := d.DetectFinal("What is a lock statement used for in C#?")

	if got.Subtype != intent.SubtypeDefinition {
		t.Fatalf("subtype=%q, want Definition", got.Subtype)
	}
	if want := "lock statement used for in C#"; got.Slots.Topic != want {
		t.Errorf("slots.Topic=%q, want %q", got.Slots.Topic, want)
	}
}

func TestDetectFinal_StatementFallback(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()

	for _, text := range []string{
		"I worked on the parser yesterday.",
		"the deployment finished",
		"that makes sense to me",
	} {
		got := d.DetectFinal(text)
		if got.Type != intent.TypeStatement {
			t.Errorf("DetectFinal(%q): type=%q, want statement", text, got.Type)
			continue
		}
		if got.Confidence < 0.4 || got.Confidence > 0.6 {
			t.Errorf("DetectFinal(%q): confidence=%.2f, want in [0.4, 0.6]", text, got.Confidence)
		}
	}
}

func TestDetectFinal_Pure(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()
	a := d.DetectFinal("generate 3 questions about testing?")
	b := d.DetectFinal("generate 3 questions about testing?")
	if a != b {
		t.Errorf("DetectFinal not pure: %+v vs %+v", a, b)
	}
}

func TestDetectCandidate_BelowThresholdReturnsFalse(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()

	// Plain statements produce no candidate hint.
	if got, ok := d.DetectCandidate("the weather is"); ok {
		t.Errorf("DetectCandidate(statement): got %+v, want no candidate", got)
	}
	if _, ok := d.DetectCandidate(""); ok {
		t.Error("DetectCandidate(empty): want no candidate")
	}
}

func TestDetectCandidate_EarlyImperativeHint(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()

	got, ok := d.DetectCandidate("can you repeat")
	if !ok {
		t.Fatal("DetectCandidate: want a candidate")
	}
	if got.Type != intent.TypeImperative || got.Subtype != intent.SubtypeRepeat {
		t.Errorf("candidate=%q/%q, want imperative/Repeat", got.Type, got.Subtype)
	}
}

func TestDetectCandidate_EarlyQuestionHint(t *testing.T) {
	t.Parallel()

	d := intent.NewDetector()

	got, ok := d.DetectCandidate("what is a goroutine")
	if !ok {
		t.Fatal("DetectCandidate: want a candidate")
	}
	if got.Type != intent.TypeQuestion {
		t.Errorf("candidate type=%q, want question", got.Type)
	}
}
