package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("200ms") or plain seconds ("0.2").
type Duration struct {
	time.Duration
	set bool
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d, set: true}
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	d.Duration = parsed
	d.set = true
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// ParseDuration parses a Go duration or a decimal number of seconds. Seconds are converted
// exactly and must resolve to whole nanoseconds.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("duration must not be empty")
	}
	if seconds, err := decimal.NewFromString(raw); err == nil {
		nanos := seconds.Shift(9)
		if !nanos.Equal(nanos.Truncate(0)) {
			return 0, fmt.Errorf("duration %q is finer than a nanosecond", raw)
		}
		return time.Duration(nanos.IntPart()), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}
