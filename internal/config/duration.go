package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Duration is a time.Duration read from the environment. Besides the
// time.ParseDuration units it accepts a leading day count: "14d", "1d12h".
type Duration struct {
	time.Duration
}

// EnvDecode implements envconfig.Decoder
func (d *Duration) EnvDecode(_ context.Context, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", v)
	}

	d.Duration = parsed
	return nil
}

func parseDuration(v string) (time.Duration, error) {
	daysPart, rest, hasDays := strings.Cut(v, "d")
	if !hasDays {
		duration, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %w", err)
		}
		return duration, nil
	}

	days, err := strconv.Atoi(daysPart)
	if err != nil {
		return 0, fmt.Errorf("invalid days value: %w", err)
	}

	total := time.Duration(days) * day
	if rest == "" {
		return total, nil
	}

	extra, err := time.ParseDuration(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	return total + extra, nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	return d.EnvDecode(context.Background(), string(text))
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// String prints whole days with the "d" suffix so values round-trip
func (d Duration) String() string {
	days := d.Duration / day
	rest := d.Duration % day

	switch {
	case days == 0 || d.Duration < 0:
		return d.Duration.String()
	case rest == 0:
		return fmt.Sprintf("%dd", days)
	default:
		return fmt.Sprintf("%dd%s", days, rest)
	}
}
