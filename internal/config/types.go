package config

// Config is the qoemeter daemon configuration. Durations are Go duration
// strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`
	History   HistoryConfig   `json:"history"`
	Retention RetentionConfig `json:"retention"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects where the metrics and history blobs live.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/qoemeter.db" }
type StorageConfig struct {
	Driver      string       `json:"driver"`
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // sqlite
	Redis       *RedisConfig `json:"redis,omitempty"`

	// FlushTimeout bounds the final metrics write on shutdown.
	FlushTimeout string `json:"flush_timeout,omitempty"`
}

type RedisConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port,omitempty"`
	Password    string `json:"password,omitempty"`
	DB          int    `json:"db,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"`
}

// HTTPConfig controls the API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// Ingest limits apply to POST /v1/samples/*. Zero rate disables limiting.
	IngestRatePerSec float64 `json:"ingest_rate_per_sec,omitempty"`
	IngestBurst      int     `json:"ingest_burst,omitempty"`

	// Metrics serves Prometheus exposition at /metrics when true or omitted.
	Metrics *bool `json:"metrics,omitempty"`

	// Token, when set, is required as a bearer token (or ?token=) on /v1
	// and /debug/pprof routes.
	Token string `json:"token,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/. On a non-loopback
	// addr it also requires Token.
	Pprof bool `json:"pprof,omitempty"`
}

// HistoryConfig controls the snapshot log. Schedule accepts cron, Go
// duration or HH:MM forms; empty means snapshots are only taken on request.
type HistoryConfig struct {
	Limit          int    `json:"limit,omitempty"`
	Schedule       string `json:"schedule,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	SkipUnchanged  bool   `json:"skip_unchanged,omitempty"`
	SaveOnShutdown bool   `json:"save_on_shutdown,omitempty"`
}

// RetentionConfig bounds sample sequences. 0 keeps everything.
type RetentionConfig struct {
	MaxSamples int `json:"max_samples"`
}

// MetricsEnabled reports the effective /metrics flag.
func (h HTTPConfig) MetricsEnabled() bool { return h.Metrics == nil || *h.Metrics }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "memory"},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8080", IngestRatePerSec: 50, IngestBurst: 100},
	}
}
