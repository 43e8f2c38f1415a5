package llmdetect

import (
	"testing"

	"github.com/MrWong99/attune/internal/intent"
)

func TestParseReply_PlainJSON(t *testing.T) {
	t.Parallel()

	in, err := parseReply(`{"type":"imperative","subtype":"Repeat","confidence":0.92,"count":3,"reference":"number 3"}`)
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if in.Type != intent.TypeImperative || in.Subtype != intent.SubtypeRepeat {
		t.Errorf("intent=%q/%q, want imperative/Repeat", in.Type, in.Subtype)
	}
	if in.Slots.Count != 3 || in.Slots.Reference != "number 3" {
		t.Errorf("slots=%+v", in.Slots)
	}
}

func TestParseReply_CodeFenced(t *testing.T) {
	t.Parallel()

	in, err := parseReply("```json\n{\"type\":\"question\",\"subtype\":\"Definition\",\"confidence\":0.8,\"topic\":\"mutex\"}\n```")
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if in.Type != intent.TypeQuestion || in.Slots.Topic != "mutex" {
		t.Errorf("intent=%+v", in)
	}
}

func TestParseReply_ConfidenceClamped(t *testing.T) {
	t.Parallel()

	in, err := parseReply(`{"type":"statement","confidence":1.8}`)
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if in.Confidence != 1 {
		t.Errorf("confidence=%v, want clamped to 1", in.Confidence)
	}
}

func TestParseReply_UnknownType(t *testing.T) {
	t.Parallel()

	if _, err := parseReply(`{"type":"exclamation"}`); err == nil {
		t.Fatal("unknown type accepted")
	}
}

func TestParseReply_Prose(t *testing.T) {
	t.Parallel()

	if _, err := parseReply("This is an imperative."); err == nil {
		t.Fatal("prose reply accepted")
	}
}

func TestNew_RequiresProviderAndModel(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Model: "gpt-4o-mini"}); err == nil {
		t.Error("missing provider accepted")
	}
	if _, err := New(Config{Provider: "openai"}); err == nil {
		t.Error("missing model accepted")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Provider: "oracle", Model: "m"}); err == nil {
		t.Fatal("unknown provider accepted")
	}
}
