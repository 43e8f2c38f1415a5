// Package llmdetect provides an LLM-backed [intent.Detector] wrapping
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more.
//
// The model classifies the final utterance text into a constrained JSON
// reply. Candidate detection stays heuristic: it runs on every interim
// update and a network round-trip per keystroke-equivalent would defeat its
// purpose. Any transport or parsing failure is reported through the
// configured error callback and answered by the heuristic fallback, so the
// pipeline never observes a detector error.
package llmdetect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/attune/internal/intent"
	"github.com/MrWong99/attune/internal/resilience"
)

const defaultTimeout = 5 * time.Second

// systemPrompt constrains the model to the classification JSON schema.
const systemPrompt = `You classify a single spoken utterance from a voice assistant session.
Reply with exactly one JSON object, no prose, no code fences:
{"type":"question|imperative|statement|other",
 "subtype":"Stop|Repeat|Continue|StartOver|Generate|Definition|HowTo|Compare|Troubleshoot|Question|",
 "confidence":0.0,
 "topic":"", "count":0, "reference":""}
Imperatives win over questions when both apply ("can you repeat that" is an imperative).
topic holds the subject of a definition question or generate command; count and
reference hold extracted numbers like "number 3".`

// Config configures a [Detector].
type Config struct {
	// Provider is the backend name: "openai", "anthropic", "gemini",
	// "ollama", "mistral", or "groq".
	Provider string

	// Model is the model identifier (e.g. "gpt-4o-mini").
	Model string

	// APIKey authenticates against the provider. Empty falls back to the
	// provider's environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
	APIKey string

	// Timeout bounds one classification call. Default: 5s.
	Timeout time.Duration

	// Fallback answers when the model call fails and handles all candidate
	// detection. Defaults to a [intent.HeuristicDetector] with default
	// thresholds.
	Fallback intent.Detector

	// OnError receives transport and parsing failures.
	OnError func(error)
}

// Detector implements [intent.Detector] with an LLM backend.
// Safe for concurrent use.
type Detector struct {
	backend  anyllmlib.Provider
	model    string
	timeout  time.Duration
	fallback intent.Detector
	onError  func(error)

	// breaker keeps a failing backend from adding its timeout to every
	// closed utterance; while open, DetectFinal answers heuristically
	// without a network call.
	breaker *resilience.Breaker
}

// Compile-time interface check.
var _ intent.Detector = (*Detector)(nil)

// New creates an LLM-backed detector from cfg.
func New(cfg Config) (*Detector, error) {
	if cfg.Provider == "" {
		return nil, errors.New("llmdetect: provider must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("llmdetect: model must not be empty")
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	backend, err := createBackend(cfg.Provider, opts...)
	if err != nil {
		return nil, fmt.Errorf("llmdetect: create %q backend: %w", cfg.Provider, err)
	}

	d := &Detector{
		backend:  backend,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		fallback: cfg.Fallback,
		onError:  cfg.OnError,
		breaker:  resilience.NewBreaker("llm-detector"),
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	if d.fallback == nil {
		d.fallback = intent.NewDetector()
	}
	return d, nil
}

// DetectFinal implements [intent.Detector]. The model's reply is parsed into
// an [intent.Intent]; on any failure the heuristic fallback answers instead.
func (d *Detector) DetectFinal(text string) intent.Intent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return intent.Intent{Type: intent.TypeOther, SourceText: text}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var in intent.Intent
	err := d.breaker.Execute(func() error {
		var cerr error
		in, cerr = d.classify(ctx, trimmed)
		return cerr
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrOpen) && d.onError != nil {
			d.onError(fmt.Errorf("llmdetect: %w", err))
		}
		return d.fallback.DetectFinal(text)
	}
	in.SourceText = text
	return in
}

// DetectCandidate implements [intent.Detector] by delegating to the
// heuristic fallback.
func (d *Detector) DetectCandidate(text string) (intent.Intent, bool) {
	return d.fallback.DetectCandidate(text)
}

// classify performs one completion call and parses the constrained reply.
func (d *Detector) classify(ctx context.Context, text string) (intent.Intent, error) {
	temperature := 0.0
	maxTokens := 200
	resp, err := d.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: d.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: text},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return intent.Intent{}, fmt.Errorf("completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return intent.Intent{}, errors.New("empty choices in response")
	}

	return parseReply(resp.Choices[0].Message.ContentString())
}

// reply is the JSON schema the model is instructed to produce.
type reply struct {
	Type       string  `json:"type"`
	Subtype    string  `json:"subtype"`
	Confidence float64 `json:"confidence"`
	Topic      string  `json:"topic"`
	Count      int     `json:"count"`
	Reference  string  `json:"reference"`
}

// parseReply decodes the model output, tolerating code fences around the
// JSON object.
func parseReply(content string) (intent.Intent, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var r reply
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return intent.Intent{}, fmt.Errorf("parse reply %q: %w", content, err)
	}

	typ, err := parseType(r.Type)
	if err != nil {
		return intent.Intent{}, err
	}

	return intent.Intent{
		Type:       typ,
		Subtype:    intent.Subtype(r.Subtype),
		Confidence: min(max(r.Confidence, 0), 1),
		Slots: intent.Slots{
			Topic:     r.Topic,
			Count:     r.Count,
			Reference: r.Reference,
		},
	}, nil
}

// parseType maps the model's type string to an [intent.Type].
func parseType(s string) (intent.Type, error) {
	switch intent.Type(strings.ToLower(s)) {
	case intent.TypeQuestion:
		return intent.TypeQuestion, nil
	case intent.TypeImperative:
		return intent.TypeImperative, nil
	case intent.TypeStatement:
		return intent.TypeStatement, nil
	case intent.TypeOther:
		return intent.TypeOther, nil
	}
	return "", fmt.Errorf("unknown intent type %q", s)
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq", providerName)
	}
}
