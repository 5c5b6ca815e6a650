package app

import (
	"context"
	"fmt"

	"qoemeter/internal/config"
	"qoemeter/internal/session"
	"qoemeter/internal/storage"
	logx "qoemeter/pkg/logx"
)

// OpenTracker restores the persisted state named by the config at cfgPath
// without starting any background loop. CLI commands use it to read what a
// daemon left behind. The returned close func releases the store.
func OpenTracker(ctx context.Context, cfgPath string, log logx.Logger) (*session.Tracker, func() error, error) {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.NewManager(cfgPath).Load(); err != nil {
			return nil, nil, err
		}
	}
	store, err := storage.Open(mapStorageConfig(cfg), log)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	t := session.New(session.Options{
		Store:        store,
		Log:          log,
		Retention:    mapRetention(cfg),
		HistoryLimit: cfg.History.Limit,
	})
	if err := t.Load(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return t, store.Close, nil
}
