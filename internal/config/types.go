package config

import "bidwatch/internal/filter"

// Config is the on-disk shape (JSON or YAML). Durations are Go duration
// strings ("30s", "2m"). Secrets may be left empty here and supplied through
// the environment instead.
type Config struct {
	G2B       G2BConfig       `json:"g2b"`
	Filter    filter.Config   `json:"filter"`
	Storage   StorageConfig   `json:"storage"`
	Render    RenderConfig    `json:"render"`
	Notifier  NotifierConfig  `json:"notifier"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
}

type G2BConfig struct {
	ServiceKey string `json:"service_key"` // do not log
	Endpoint   string `json:"endpoint,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	// Timezone decides which calendar day is queried. Empty means process local.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./bids.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type RenderConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Title   string `json:"title,omitempty"`
}

// NotifierConfig controls the async announcement queue. With neither a Slack
// webhook nor a Telegram token set, notifications are disabled.
type NotifierConfig struct {
	Enabled         bool           `json:"enabled"`
	SlackWebhookURL string         `json:"slack_webhook_url,omitempty"` // do not log
	Telegram        TelegramConfig `json:"telegram"`
	RatePerSec      int            `json:"rate_per_sec,omitempty"`
	QueueSize       int            `json:"queue_size,omitempty"`
	Timeout         string         `json:"timeout,omitempty"`
	// DrainTimeout bounds how long a finished run waits for queued sends.
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// SchedulerConfig is only used with -daemon.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Default is the configuration used for every field the file leaves out.
func Default() *Config {
	return &Config{
		G2B: G2BConfig{
			PageSize: 200,
			Timeout:  "30s",
		},
		Filter: filter.Default(),
		Storage: StorageConfig{
			Driver: "file",
			Path:   "bids.json",
		},
		Render: RenderConfig{
			Enabled: true,
			Path:    "index.html",
		},
		Notifier: NotifierConfig{
			Enabled:      true,
			RatePerSec:   1,
			QueueSize:    256,
			Timeout:      "10s",
			DrainTimeout: "30s",
		},
		Scheduler: SchedulerConfig{
			Schedule: "*/30 * * * *",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}
