package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps [time.Duration] with YAML support for human-readable values
// like "750ms" or "12s". Plain integers are read as nanoseconds, matching
// time.Duration's native unit.
type Duration time.Duration

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements [fmt.Stringer].
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("config: duration must be a string like \"750ms\" or an integer nanosecond count: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
