package config

import (
	"reflect"
	"sort"
	"strings"

	logx "qoemeter/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{"storage": true, "http": true}

// SummarizeChange lists the sections that differ between oldCfg and newCfg
// and returns log fields describing the new values. Secrets are reported
// only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
		if r := newCfg.Storage.Redis; r != nil {
			attrs = append(attrs,
				logx.String("storage.redis.host", r.Host),
				logx.Int("storage.redis.db", r.DB),
				logx.Bool("storage.redis.password_set", r.Password != ""),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Float64("http.ingest_rate_per_sec", newCfg.HTTP.IngestRatePerSec),
			logx.Int("http.ingest_burst", newCfg.HTTP.IngestBurst),
			logx.Bool("http.metrics", newCfg.HTTP.MetricsEnabled()),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}

	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.Int("history.limit", newCfg.History.Limit),
			logx.String("history.schedule", strings.TrimSpace(newCfg.History.Schedule)),
			logx.String("history.timezone", strings.TrimSpace(newCfg.History.Timezone)),
		)
	}

	if oldCfg.Retention != newCfg.Retention {
		changed = append(changed, "retention")
		attrs = append(attrs, logx.Int("retention.max_samples", newCfg.Retention.MaxSamples))
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart filters sections that cannot be applied to a running process.
func NeedsRestart(sections []string) []string {
	var out []string
	for _, s := range sections {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
