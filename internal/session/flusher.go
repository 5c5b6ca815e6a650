package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logx "qoemeter/pkg/logx"
)

func (t *Tracker) markDirty() {
	select {
	case t.dirty <- struct{}{}:
	default:
	}
}

// Flush persists the current snapshot unless that version is already stored.
func (t *Tracker) Flush(ctx context.Context) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	st := t.cur.Load()
	if st.version == t.flushed {
		return nil
	}
	b, err := json.Marshal(st.snap)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := t.store.Put(ctx, KeyMetrics, b); err != nil {
		return fmt.Errorf("put %s: %w", KeyMetrics, err)
	}
	t.flushed = st.version
	return nil
}

// RunFlusher writes the snapshot after each burst of transitions until ctx
// is done, then makes a last attempt bounded by finalTimeout. Failures are
// logged and not retried; the next transition triggers another write.
func (t *Tracker) RunFlusher(ctx context.Context, finalTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			if finalTimeout <= 0 {
				finalTimeout = 2 * time.Second
			}
			fctx, cancel := context.WithTimeout(context.Background(), finalTimeout)
			defer cancel()
			if err := t.Flush(fctx); err != nil {
				t.log.Warn("final metrics flush failed", logx.Err(err))
			}
			return nil
		case <-t.dirty:
			if err := t.Flush(ctx); err != nil {
				t.log.Warn("metrics flush failed", logx.Err(err), logx.Uint64("version", t.Version()))
			}
		}
	}
}
