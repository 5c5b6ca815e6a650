package app

import (
	"strings"
	"time"

	"qoemeter/internal/config"
	"qoemeter/internal/storage"
)

// mapStorageConfig converts the validated file config into driver options.
func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	out := storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: config.DurationOr(sc.BusyTimeout, time.Second),
	}
	if r := sc.Redis; r != nil {
		out.Redis = storage.RedisConfig{
			Host:        strings.TrimSpace(r.Host),
			Port:        r.Port,
			Password:    r.Password,
			DB:          r.DB,
			Prefix:      r.Prefix,
			DialTimeout: config.DurationOr(r.DialTimeout, 5*time.Second),
		}
	}
	return out
}
