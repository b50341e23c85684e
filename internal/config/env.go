package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override the file. Secrets normally live here.
const (
	EnvServiceKey       = "G2B_API_KEY"
	EnvSlackWebhook     = "SLACK_WEBHOOK_URL"
	EnvTelegramToken    = "TELEGRAM_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
	EnvPositiveKeywords = "BIDWATCH_POSITIVE_KEYWORDS"
	EnvNegativeKeywords = "BIDWATCH_NEGATIVE_KEYWORDS"
	EnvTargetRegions    = "BIDWATCH_TARGET_REGIONS"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// withDotenv returns a lookup where the process environment wins and a .env
// file fills the gaps. A missing .env file is not an error.
func withDotenv(path string, base LookupFunc) (LookupFunc, error) {
	if base == nil {
		base = os.LookupEnv
	}
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	file, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return base, nil
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := base(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}, nil
}

// applyEnv overlays non-empty environment values onto cfg.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvServiceKey); ok {
		cfg.G2B.ServiceKey = v
	}
	if v, ok := get(EnvSlackWebhook); ok {
		cfg.Notifier.SlackWebhookURL = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Notifier.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q", EnvTelegramChatID, v)
		}
		cfg.Notifier.Telegram.ChatID = id
	}
	if v, ok := get(EnvPositiveKeywords); ok {
		cfg.Filter.PositiveKeywords = splitList(v)
	}
	if v, ok := get(EnvNegativeKeywords); ok {
		cfg.Filter.NegativeKeywords = splitList(v)
	}
	if v, ok := get(EnvTargetRegions); ok {
		cfg.Filter.TargetRegions = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
