// Package app wires the qoemeter daemon: config, logging, storage, the
// session tracker and its background loops, the exporter and the HTTP API.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"qoemeter/internal/api"
	"qoemeter/internal/config"
	"qoemeter/internal/eventbus"
	"qoemeter/internal/exporter"
	"qoemeter/internal/runtime/supervisor"
	"qoemeter/internal/schedule"
	"qoemeter/internal/session"
	"qoemeter/internal/storage"
	logx "qoemeter/pkg/logx"
)

type App struct {
	cfgm  *config.Manager
	watch bool

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tracker  *session.Tracker
	exporter *exporter.Exporter
	history  *schedule.Service
	server   *api.Server

	sup *supervisor.Supervisor

	skipUnchanged  atomic.Bool
	saveOnShutdown atomic.Bool
	// restored is set once persisted state loaded cleanly. The shutdown
	// history save requires it.
	restored atomic.Bool
}

// New loads the config at cfgPath and builds every component. An empty
// path runs on defaults without watching a file.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	var cfg *config.Config
	if strings.TrimSpace(cfgPath) == "" {
		cfg = config.Default()
		cfgm.Commit(cfg)
	} else {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	tracker := session.New(session.Options{
		Store:        store,
		Bus:          bus,
		Log:          log,
		Retention:    mapRetention(cfg),
		HistoryLimit: cfg.History.Limit,
	})

	a := &App{
		cfgm:     cfgm,
		watch:    strings.TrimSpace(cfgPath) != "",
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		tracker:  tracker,
		exporter: exporter.New(tracker, log),
	}
	a.skipUnchanged.Store(cfg.History.SkipUnchanged)
	a.saveOnShutdown.Store(cfg.History.SaveOnShutdown)
	a.history = schedule.New("history", a.snapshotHistory, 30*time.Second, log)

	if strings.TrimSpace(cfg.HTTP.Addr) != "" {
		a.server = api.NewServer(mapServerConfig(cfg), a.handler(cfg), log)
	} else {
		log.Info("http disabled (empty http.addr)")
	}
	return a, nil
}

func (a *App) handler(cfg *config.Config) http.Handler {
	h := cfg.HTTP
	pprofOn := h.Pprof
	if pprofOn && h.Token == "" && !api.IsLoopbackAddr(h.Addr) {
		a.log.Error("pprof refused: non-loopback http.addr requires http.token", logx.String("addr", h.Addr))
		pprofOn = false
	}
	opts := api.Options{
		Tracker:    a.tracker,
		Log:        a.log,
		RatePerSec: h.IngestRatePerSec,
		Burst:      h.IngestBurst,
		Token:      h.Token,
		Pprof:      pprofOn,
		Observe:    a.exporter,
		Health:     a.health,
	}
	if h.MetricsEnabled() {
		opts.Metrics = a.exporter.Handler()
	}
	return api.NewHandler(opts)
}

// Tracker exposes the live accumulator, mainly for tests.
func (a *App) Tracker() *session.Tracker { return a.tracker }

// Done is closed when the app stops on its own (fatal error) or via Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the bound API address, or "" when HTTP is disabled.
func (a *App) Addr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

func (a *App) health() map[string]any {
	out := map[string]any{"history_entries": a.tracker.HistoryLen()}
	if next, ok := a.history.Next(); ok {
		out["history_next"] = next
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Status()
	}
	return out
}

// snapshotHistory is the scheduled history job.
func (a *App) snapshotHistory(ctx context.Context) error {
	if a.skipUnchanged.Load() {
		e, saved, err := a.tracker.SaveHistoryIfChanged(ctx)
		if !saved {
			a.log.Debug("history snapshot skipped (unchanged)")
			return nil
		}
		if err == nil {
			a.log.Info("history snapshot saved", logx.String("id", e.ID))
		}
		return err
	}
	e, err := a.tracker.SaveHistory(ctx)
	if err == nil {
		a.log.Info("history snapshot saved", logx.String("id", e.ID))
	}
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	cfg := a.cfgm.Get()

	if err := a.tracker.Load(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	a.restored.Store(true)
	if a.server != nil {
		if err := a.server.Listen(); err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		a.sup.Go("http.serve", a.server.Serve)
	}

	fto := flushTimeout(cfg)
	a.sup.Go("session.flush", func(c context.Context) error {
		return a.tracker.RunFlusher(c, fto)
	})
	a.sup.GoRestart("exporter", func(c context.Context) error {
		return a.exporter.Run(c, a.bus, 250*time.Millisecond)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	if err := a.history.Start(a.sup.Context(), cfg.History.Schedule, cfg.History.Timezone); err != nil {
		return fmt.Errorf("history schedule: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if e.Type == eventbus.MetricsUpdated {
					a.log.Trace("event", logx.String("type", e.Type), logx.Uint64("version", e.Version))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Uint64("version", e.Version))
			}
		}
	})

	if a.watch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		runWatchdog(c, a.log)
		return nil
	})
	sdNotify(a.log, sdReady)

	a.log.Info("app started",
		logx.String("addr", a.Addr()),
		logx.Uint64("version", a.tracker.Version()),
		logx.Int("history_entries", a.tracker.HistoryLen()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, sdStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Scheduled snapshots stop first so none lands after the shutdown save.
	a.step(ctx, "history.schedule", 2*time.Second, func(c context.Context) error {
		a.history.Stop(c)
		return nil
	})
	if a.saveOnShutdown.Load() && !a.restored.Load() {
		a.log.Warn("shutdown history save skipped (state was not restored)")
	} else if a.saveOnShutdown.Load() {
		a.step(ctx, "history.save", 2*time.Second, func(c context.Context) error {
			_, _, err := a.tracker.SaveHistoryIfChanged(c)
			return err
		})
	}

	a.sup.Cancel()
	// The flusher makes its final write and the HTTP server drains here.
	a.step(ctx, "supervisor", 8*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		return a.store.Close()
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown action bounded by max and by ctx. A step that
// overruns is logged and left behind so it cannot stall the rest.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
