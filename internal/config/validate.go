package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve on minimal hosts
)

// ErrMissingServiceKey is returned when no G2B API key is configured.
var ErrMissingServiceKey = errors.New("g2b.service_key is required (or set " + EnvServiceKey + ")")

// Validate checks everything that can be checked without touching the network.
// Schedule syntax is checked by the caller's validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.G2B.ServiceKey) == "" {
		errs = append(errs, ErrMissingServiceKey)
	}
	if cfg.G2B.PageSize < 0 || cfg.G2B.PageSize > 200 {
		errs = append(errs, fmt.Errorf("g2b.page_size: must be at most 200, got %d", cfg.G2B.PageSize))
	}
	for path, raw := range map[string]string{
		"g2b.timeout":            cfg.G2B.Timeout,
		"storage.busy_timeout":   cfg.Storage.BusyTimeout,
		"notifier.timeout":       cfg.Notifier.Timeout,
		"notifier.drain_timeout": cfg.Notifier.DrainTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := LoadLocation("g2b.timezone", cfg.G2B.Timezone); err != nil {
		errs = append(errs, err)
	}
	if _, err := LoadLocation("scheduler.timezone", cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Render.Enabled && strings.TrimSpace(cfg.Render.Path) == "" {
		errs = append(errs, errors.New("render.path: required when render is enabled"))
	}
	if cfg.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec: must be >= 0"))
	}
	if cfg.Notifier.QueueSize < 0 {
		errs = append(errs, errors.New("notifier.queue_size: must be >= 0"))
	}
	if t := cfg.Notifier.Telegram; t.Token != "" && t.ChatID == 0 {
		errs = append(errs, errors.New("notifier.telegram.chat_id: required when a token is set"))
	}
	return errors.Join(errs...)
}

// LoadLocation resolves a timezone name. Empty means time.Local.
func LoadLocation(path, name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return loc, nil
}
