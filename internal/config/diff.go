package config

import (
	"reflect"

	logx "bidwatch/pkg/logx"
)

// SummarizeChange lists the sections that differ and a few safe fields for
// the reload log line. Secrets are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	fields := make([]logx.Field, 0, 12)

	if oldCfg.G2B != newCfg.G2B {
		changed = append(changed, "g2b")
		fields = append(fields,
			logx.Bool("g2b.service_key_set", newCfg.G2B.ServiceKey != ""),
			logx.Int("g2b.page_size", newCfg.G2B.PageSize),
			logx.String("g2b.timezone", newCfg.G2B.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Filter, newCfg.Filter) {
		changed = append(changed, "filter")
		fields = append(fields,
			logx.Int("filter.positive", len(newCfg.Filter.PositiveKeywords)),
			logx.Int("filter.negative", len(newCfg.Filter.NegativeKeywords)),
			logx.Int("filter.regions", len(newCfg.Filter.TargetRegions)),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Render != newCfg.Render {
		changed = append(changed, "render")
		fields = append(fields, logx.Bool("render.enabled", newCfg.Render.Enabled))
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		fields = append(fields,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Bool("notifier.slack_set", newCfg.Notifier.SlackWebhookURL != ""),
			logx.Bool("notifier.telegram_set", newCfg.Notifier.Telegram.Token != ""),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields, logx.String("scheduler.schedule", newCfg.Scheduler.Schedule))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields, logx.String("logging.level", newCfg.Logging.Level))
	}
	return changed, fields
}
