package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"qoemeter/internal/schedule"
	logx "qoemeter/pkg/logx"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	st := cfg.Storage
	switch strings.ToLower(strings.TrimSpace(st.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(st.Path) == "" {
			add(fmt.Errorf("storage.path: required for driver %q", st.Driver))
		}
	case "redis":
		if st.Redis == nil || strings.TrimSpace(st.Redis.Host) == "" {
			add(errors.New("storage.redis.host: required for driver \"redis\""))
		} else {
			if st.Redis.Port < 0 || st.Redis.Port > 65535 {
				add(fmt.Errorf("storage.redis.port: out of range: %d", st.Redis.Port))
			}
			if st.Redis.DB < 0 {
				add(fmt.Errorf("storage.redis.db: must be >= 0"))
			}
			_, err := ParseDurationField("storage.redis.dial_timeout", st.Redis.DialTimeout)
			add(err)
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q (memory|file|sqlite|redis)", st.Driver))
	}
	_, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout)
	add(err)
	_, err = ParseDurationField("storage.flush_timeout", st.FlushTimeout)
	add(err)

	h := cfg.HTTP
	if addr := strings.TrimSpace(h.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("http.addr: %w", err))
		}
	}
	for _, f := range [][2]string{
		{"http.read_timeout", h.ReadTimeout},
		{"http.write_timeout", h.WriteTimeout},
		{"http.idle_timeout", h.IdleTimeout},
		{"http.shutdown_timeout", h.ShutdownTimeout},
	} {
		_, err := ParseDurationField(f[0], f[1])
		add(err)
	}
	if h.IngestRatePerSec < 0 {
		add(errors.New("http.ingest_rate_per_sec: must be >= 0"))
	}
	if h.IngestBurst < 0 {
		add(errors.New("http.ingest_burst: must be >= 0"))
	}

	if cfg.History.Limit < 0 || cfg.History.Limit > 100 {
		add(fmt.Errorf("history.limit: must be within 0..100, got %d", cfg.History.Limit))
	}
	if s := strings.TrimSpace(cfg.History.Schedule); s != "" {
		if _, err := schedule.Parse(s); err != nil {
			add(fmt.Errorf("history.schedule: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.History.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("history.timezone: %w", err))
		}
	}
	if cfg.Retention.MaxSamples < 0 {
		add(errors.New("retention.max_samples: must be >= 0"))
	}

	return errors.Join(errs...)
}
