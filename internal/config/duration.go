package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from YAML as "90s", "6h", "7d" or a bare
// number of seconds.
type Duration struct {
	time.Duration
}

func DurationFrom(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) IsZero() bool {
	return d.Duration == 0
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := parseDuration(node.Value, node.Tag)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

func parseDuration(raw, tag string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return 0, nil
	case tag == "!!int" || tag == "!!float":
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		return time.Duration(secs * float64(time.Second)), nil
	case strings.HasSuffix(raw, "d"):
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return parsed, nil
}
