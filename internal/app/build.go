package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"bidwatch/internal/config"
	"bidwatch/internal/g2b"
	"bidwatch/internal/notifier"
	"bidwatch/internal/pipeline"
	"bidwatch/internal/render"
	"bidwatch/internal/storage"
	logx "bidwatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	path := strings.TrimSpace(cfg.Storage.Path)
	if (driver == "sqlite" || driver == "sqlite3") && path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: d.BusyTimeout}, nil
}

func mapG2BConfig(cfg *config.Config, d config.Durations) g2b.Config {
	return g2b.Config{
		ServiceKey: cfg.G2B.ServiceKey,
		Endpoint:   cfg.G2B.Endpoint,
		PageSize:   cfg.G2B.PageSize,
		Timeout:    d.FetchTimeout,
	}
}

// buildSenders returns one sender per configured destination. A notifier
// with no destinations is simply disabled.
func buildSenders(cfg *config.Config, d config.Durations) ([]notifier.Sender, error) {
	nc := cfg.Notifier
	if !nc.Enabled {
		return nil, nil
	}
	var senders []notifier.Sender
	if strings.TrimSpace(nc.SlackWebhookURL) != "" {
		s, err := notifier.NewSlackSender(nc.SlackWebhookURL, &http.Client{Timeout: d.NotifyTimeout})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	if strings.TrimSpace(nc.Telegram.Token) != "" {
		s, err := notifier.NewTelegramSender(notifier.TelegramConfig{
			Token:    nc.Telegram.Token,
			ChatID:   nc.Telegram.ChatID,
			ThreadID: nc.Telegram.ThreadID,
			Timeout:  d.NotifyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		senders = append(senders, s)
	}
	return senders, nil
}

func mapNotifierConfig(cfg *config.Config, d config.Durations) notifier.Config {
	return notifier.Config{
		Enabled:    cfg.Notifier.Enabled,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
		Timeout:    d.NotifyTimeout,
	}
}

func buildPublisher(cfg *config.Config) (pipeline.Publisher, error) {
	if !cfg.Render.Enabled {
		return nil, nil
	}
	html, err := render.NewHTML(cfg.Render.Title)
	if err != nil {
		return nil, err
	}
	return pipeline.FilePublisher{Path: cfg.Render.Path, Renderer: html}, nil
}

// clockIn returns a clock whose "today" is the calendar day in loc.
func clockIn(loc *time.Location) func() time.Time {
	return func() time.Time { return time.Now().In(loc) }
}
