// Package config provides the configuration schema and loader for the attune
// utterance-intent service.
package config

import (
	"time"

	"github.com/MrWong99/attune/internal/intent"
)

// Config is the root configuration structure for attune.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Asr      AsrConfig      `yaml:"asr"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Intent   IntentConfig   `yaml:"intent"`
	Record   RecordConfig   `yaml:"record"`
}

// LogLevel controls logging verbosity.
type LogLevel string

// Valid log levels.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address serving /metrics and health endpoints
	// (e.g., ":9090"). Empty disables the HTTP listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// AsrConfig selects the ASR event source.
type AsrConfig struct {
	// StreamURL is the WebSocket endpoint emitting transcript JSON messages.
	// Empty means events are fed programmatically (library use, replay).
	StreamURL string `yaml:"stream_url"`

	// Token authenticates against the stream endpoint, if required.
	Token string `yaml:"token"`
}

// PipelineConfig holds the tuning knobs of the processing stages. Zero
// values select the documented defaults; out-of-range values are normalised
// by [Validate].
type PipelineConfig struct {
	StabilizerWindowSize              int      `yaml:"stabilizer_window_size"`
	MinWordConfidence                 float64  `yaml:"min_word_confidence"`
	RequireRepetitionForLowConfidence bool     `yaml:"require_repetition_for_low_confidence"`
	SilenceGapThreshold               Duration `yaml:"silence_gap_threshold"`
	PunctuationPauseThreshold         Duration `yaml:"punctuation_pause_threshold"`
	MaxUtteranceDuration              Duration `yaml:"max_utterance_duration"`
	MaxUtteranceLength                int      `yaml:"max_utterance_length"`
	DeduplicationSimilarityThreshold  float64  `yaml:"deduplication_similarity_threshold"`
	DeduplicationWindow               Duration `yaml:"deduplication_window"`
	ConflictWindow                    Duration `yaml:"conflict_window"`

	// Cooldowns maps imperative subtype names (e.g. "Repeat") to debounce
	// intervals. Stop is pinned to zero regardless of configuration.
	Cooldowns map[string]Duration `yaml:"cooldowns"`
}

// IntentConfig selects and tunes the intent detector.
type IntentConfig struct {
	// Detector selects the implementation: "heuristic" (default) or "llm".
	Detector string `yaml:"detector"`

	// MinConfidence is the floor for final question/imperative emission.
	MinConfidence float64 `yaml:"min_confidence"`

	// CandidateMinConfidence is the floor for candidate emission.
	CandidateMinConfidence float64 `yaml:"candidate_min_confidence"`

	// LLM configures the "llm" detector backend.
	LLM LLMConfig `yaml:"llm"`
}

// LLMConfig configures the optional LLM-backed detector.
type LLMConfig struct {
	// Provider is the backend name (e.g. "openai", "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// Model is the model identifier (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. Empty falls back to the
	// provider's environment variable.
	APIKey string `yaml:"api_key"`
}

// RecordConfig configures session recording.
type RecordConfig struct {
	// PostgresDSN is the connection string of the recording database.
	// Empty disables recording.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SubtypeCooldowns converts the string-keyed cooldown map to intent
// subtypes. Unknown names are dropped by [Validate] before this is called.
func (p PipelineConfig) SubtypeCooldowns() map[intent.Subtype]time.Duration {
	if len(p.Cooldowns) == 0 {
		return nil
	}
	out := make(map[intent.Subtype]time.Duration, len(p.Cooldowns))
	for name, d := range p.Cooldowns {
		out[intent.Subtype(name)] = d.Std()
	}
	return out
}
