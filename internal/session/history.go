package session

import (
	"context"
	"encoding/json"
	"fmt"

	"qoemeter/internal/eventbus"
	"qoemeter/internal/metrics"
	"qoemeter/internal/qoe"
	logx "qoemeter/pkg/logx"
)

// HistoryEntry is a frozen copy of the accumulator and its scores.
type HistoryEntry struct {
	ID        string           `json:"id"`
	Timestamp int64            `json:"timestamp"` // unix ms
	Metrics   metrics.Snapshot `json:"metrics"`
	Scores    qoe.Tree         `json:"scores"`
}

// History returns the log newest first. The slice is a copy; entries share
// immutable snapshot data.
func (t *Tracker) History() []HistoryEntry {
	t.histMu.RLock()
	defer t.histMu.RUnlock()
	return append([]HistoryEntry(nil), t.history...)
}

func (t *Tracker) HistoryLen() int {
	t.histMu.RLock()
	defer t.histMu.RUnlock()
	return len(t.history)
}

// SaveHistory prepends the current snapshot and scores to the log, trims it
// to the limit and persists it. On a storage error the in-memory log keeps
// the entry and the error is returned.
func (t *Tracker) SaveHistory(ctx context.Context) (HistoryEntry, error) {
	st := t.cur.Load()
	entry := HistoryEntry{
		ID:        t.newID(),
		Timestamp: t.now().UnixMilli(),
		Metrics:   st.snap.Clone(),
		Scores:    t.scoresFor(st),
	}

	t.histMu.Lock()
	limit := t.HistoryLimit()
	n := len(t.history) + 1
	if n > limit {
		n = limit
	}
	next := make([]HistoryEntry, 0, n)
	next = append(next, entry)
	next = append(next, t.history[:n-1]...)
	t.history = next
	err := t.persistHistoryLocked(ctx)
	if st.version > t.savedVersion.Load() {
		t.savedVersion.Store(st.version)
	}
	t.histMu.Unlock()

	t.bus.Publish(eventbus.Event{Type: eventbus.HistorySaved, Version: st.version, Data: entry.ID})
	if err != nil {
		t.log.Warn("failed to persist history", logx.Err(err), logx.String("id", entry.ID))
		return entry, err
	}
	t.log.Debug("history saved", logx.String("id", entry.ID), logx.Int("entries", n), logx.OptFloat64("overall", entry.Scores.Overall.Score))
	return entry, nil
}

// SaveHistoryIfChanged is SaveHistory for scheduled snapshots: it does
// nothing when no transition happened since the last save.
func (t *Tracker) SaveHistoryIfChanged(ctx context.Context) (HistoryEntry, bool, error) {
	if t.HistoryLen() > 0 && t.Version() == t.savedVersion.Load() {
		return HistoryEntry{}, false, nil
	}
	e, err := t.SaveHistory(ctx)
	return e, true, err
}

// ClearHistory empties the log and deletes its persisted blob.
func (t *Tracker) ClearHistory(ctx context.Context) error {
	t.histMu.Lock()
	t.history = nil
	err := t.store.Delete(ctx, KeyHistory)
	t.histMu.Unlock()

	t.bus.Publish(eventbus.Event{Type: eventbus.HistoryCleared, Version: t.Version()})
	if err != nil {
		t.log.Warn("failed to clear persisted history", logx.Err(err))
		return fmt.Errorf("delete %s: %w", KeyHistory, err)
	}
	t.log.Info("history cleared")
	return nil
}

func (t *Tracker) persistHistoryLocked(ctx context.Context) error {
	out := t.history
	if out == nil {
		out = []HistoryEntry{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := t.store.Put(ctx, KeyHistory, b); err != nil {
		return fmt.Errorf("put %s: %w", KeyHistory, err)
	}
	return nil
}
