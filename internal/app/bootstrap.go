package app

import (
	"time"

	"qoemeter/internal/api"
	"qoemeter/internal/config"
	"qoemeter/internal/metrics"
	logx "qoemeter/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapServerConfig(cfg *config.Config) api.ServerConfig {
	h := cfg.HTTP
	return api.ServerConfig{
		Addr:            h.Addr,
		ReadTimeout:     config.DurationOr(h.ReadTimeout, 15*time.Second),
		WriteTimeout:    config.DurationOr(h.WriteTimeout, 30*time.Second),
		IdleTimeout:     config.DurationOr(h.IdleTimeout, 60*time.Second),
		ShutdownTimeout: config.DurationOr(h.ShutdownTimeout, 5*time.Second),
	}
}

func mapRetention(cfg *config.Config) metrics.Retention {
	return metrics.Retention{MaxSamples: cfg.Retention.MaxSamples}
}

func flushTimeout(cfg *config.Config) time.Duration {
	return config.DurationOr(cfg.Storage.FlushTimeout, 2*time.Second)
}
