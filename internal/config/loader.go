package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// knownImperativeSubtypes lists the subtype names accepted in the cooldown
// map. Used by [Validate] to warn about unrecognised names.
var knownImperativeSubtypes = []string{"Stop", "Repeat", "Continue", "StartOver", "Generate"}

// knownDetectors lists valid intent.detector values.
var knownDetectors = []string{"", "heuristic", "llm"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and normalises
// out-of-range tunables in place. Hard failures are joined into a single
// error; recoverable oddities are logged as warnings and corrected.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Pipeline: negative durations and lengths are replaced by the stage
	// defaults (selected by the zero value), not rejected.
	p := &cfg.Pipeline
	normalizeDuration("pipeline.silence_gap_threshold", &p.SilenceGapThreshold)
	normalizeDuration("pipeline.punctuation_pause_threshold", &p.PunctuationPauseThreshold)
	normalizeDuration("pipeline.max_utterance_duration", &p.MaxUtteranceDuration)
	normalizeDuration("pipeline.deduplication_window", &p.DeduplicationWindow)
	normalizeDuration("pipeline.conflict_window", &p.ConflictWindow)
	if p.MaxUtteranceLength < 0 {
		slog.Warn("pipeline.max_utterance_length is negative; using default", "value", p.MaxUtteranceLength)
		p.MaxUtteranceLength = 0
	}
	if p.StabilizerWindowSize < 0 || p.StabilizerWindowSize == 1 {
		slog.Warn("pipeline.stabilizer_window_size must be at least 2; using default", "value", p.StabilizerWindowSize)
		p.StabilizerWindowSize = 0
	}
	normalizeRatio("pipeline.min_word_confidence", &p.MinWordConfidence)
	normalizeRatio("pipeline.deduplication_similarity_threshold", &p.DeduplicationSimilarityThreshold)

	for name, d := range p.Cooldowns {
		if !slices.Contains(knownImperativeSubtypes, name) {
			slog.Warn("unknown cooldown subtype; ignoring", "subtype", name)
			delete(p.Cooldowns, name)
			continue
		}
		if d < 0 {
			slog.Warn("negative cooldown; using default", "subtype", name, "value", d)
			delete(p.Cooldowns, name)
		}
	}
	if d, ok := p.Cooldowns["Stop"]; ok && d != 0 {
		slog.Warn("cooldowns.Stop must be 0; the stop action is never debounced", "configured", d)
		p.Cooldowns["Stop"] = 0
	}

	// Punctuation close is meant to win over the silence close; equal
	// thresholds still favour punctuation, longer ones never fire first.
	if p.PunctuationPauseThreshold > 0 && p.SilenceGapThreshold > 0 &&
		p.PunctuationPauseThreshold > p.SilenceGapThreshold {
		slog.Warn("pipeline.punctuation_pause_threshold exceeds silence_gap_threshold; punctuation close will never fire first",
			"punctuation_pause", p.PunctuationPauseThreshold,
			"silence_gap", p.SilenceGapThreshold,
		)
	}

	// Intent
	in := &cfg.Intent
	if !slices.Contains(knownDetectors, in.Detector) {
		errs = append(errs, fmt.Errorf("intent.detector %q is invalid; valid values: heuristic, llm", in.Detector))
	}
	normalizeRatio("intent.min_confidence", &in.MinConfidence)
	normalizeRatio("intent.candidate_min_confidence", &in.CandidateMinConfidence)
	if in.Detector == "llm" {
		if in.LLM.Provider == "" {
			errs = append(errs, errors.New("intent.llm.provider is required when intent.detector is llm"))
		}
		if in.LLM.Model == "" {
			errs = append(errs, errors.New("intent.llm.model is required when intent.detector is llm"))
		}
	}

	// Record
	if cfg.Record.PostgresDSN == "" {
		slog.Debug("record.postgres_dsn is empty; session recording disabled")
	}

	return errors.Join(errs...)
}

// normalizeDuration resets a negative duration to zero (the stage default)
// with a warning.
func normalizeDuration(key string, d *Duration) {
	if *d < 0 {
		slog.Warn("negative duration; using default", "key", key, "value", *d)
		*d = 0
	}
}

// normalizeRatio clamps a [0, 1] tunable with a warning.
func normalizeRatio(key string, v *float64) {
	if *v < 0 || *v > 1 {
		slog.Warn("value out of range [0, 1]; clamping", "key", key, "value", *v)
		*v = min(max(*v, 0), 1)
	}
}
