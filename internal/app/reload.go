package app

import (
	"context"
	"strings"

	"qoemeter/internal/config"
	logx "qoemeter/pkg/logx"
)

// reloadLoop applies published configs until ctx is done. Sections that
// need a restart are only reported.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			next = latest(sub, next)
			a.applyConfig(last, next)
			last = next
		}
	}
}

// latest drains sub so bursts are applied once.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if pending := config.NeedsRestart(sections); len(pending) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(pending, ",")))
	}

	a.logs.Apply(mapLoggingConfig(next))
	a.tracker.SetRetention(mapRetention(next))
	a.tracker.SetHistoryLimit(next.History.Limit)
	a.skipUnchanged.Store(next.History.SkipUnchanged)
	a.saveOnShutdown.Store(next.History.SaveOnShutdown)
	if err := a.history.Apply(next.History.Schedule, next.History.Timezone); err != nil {
		a.log.Warn("invalid history schedule; keeping previous", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}
