package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations holds every duration field resolved with its default. Resolve after
// Validate, which has already rejected malformed values.
type Durations struct {
	FetchTimeout  time.Duration
	BusyTimeout   time.Duration
	NotifyTimeout time.Duration
	DrainTimeout  time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.FetchTimeout, err = ParseDurationOrDefault("g2b.timeout", c.G2B.Timeout, 30*time.Second); err != nil {
		return d, err
	}
	if d.BusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return d, err
	}
	if d.NotifyTimeout, err = ParseDurationOrDefault("notifier.timeout", c.Notifier.Timeout, 10*time.Second); err != nil {
		return d, err
	}
	if d.DrainTimeout, err = ParseDurationOrDefault("notifier.drain_timeout", c.Notifier.DrainTimeout, 30*time.Second); err != nil {
		return d, err
	}
	return d, nil
}
