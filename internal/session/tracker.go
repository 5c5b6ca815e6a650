// Package session owns the live metrics accumulator: it serializes sample
// transitions, persists the snapshot in the background, memoizes scores and
// keeps the capped history log.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"qoemeter/internal/eventbus"
	"qoemeter/internal/metrics"
	"qoemeter/internal/qoe"
	"qoemeter/internal/storage"
	logx "qoemeter/pkg/logx"
)

// Storage keys.
const (
	KeyMetrics = "qoe_metrics"
	KeyHistory = "qoe_history"
)

// DefaultHistoryLimit caps the history log when Options.HistoryLimit is unset.
const DefaultHistoryLimit = 100

type Options struct {
	Store        storage.Store
	Bus          eventbus.Bus
	Log          logx.Logger
	Retention    metrics.Retention
	HistoryLimit int

	// Now and NewID are for tests.
	Now   func() time.Time
	NewID func() string
}

type state struct {
	snap    metrics.Snapshot
	version uint64
}

type scored struct {
	version uint64
	tree    qoe.Tree
}

type Tracker struct {
	store  storage.Store
	bus    eventbus.Bus
	log    logx.Logger
	scorer *qoe.Scorer
	ret    atomic.Value // metrics.Retention
	limit  atomic.Int64
	now    func() time.Time
	newID  func() string

	// mu serializes transitions; cur is read without it.
	mu  sync.Mutex
	cur atomic.Pointer[state]

	scoreMu sync.Mutex
	scored  *scored

	histMu  sync.RWMutex
	history []HistoryEntry
	// savedVersion only moves forward and is written under histMu.
	savedVersion atomic.Uint64

	// persistMu orders metrics blob writes against Reset.
	persistMu sync.Mutex
	flushed   uint64
	dirty     chan struct{}
}

func New(opts Options) *Tracker {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "session"))
	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	t := &Tracker{
		store:  opts.Store,
		bus:    opts.Bus,
		log:    log,
		scorer: qoe.NewScorer(log),
		now:    opts.Now,
		newID:  opts.NewID,
		dirty:  make(chan struct{}, 1),
	}
	t.SetRetention(opts.Retention)
	t.SetHistoryLimit(opts.HistoryLimit)
	t.cur.Store(&state{snap: metrics.New()})
	return t
}

// SetRetention changes the window applied to future samples. Already
// recorded values are trimmed lazily by the next append to each sequence.
func (t *Tracker) SetRetention(r metrics.Retention) {
	if r.MaxSamples < 0 {
		r.MaxSamples = 0
	}
	t.ret.Store(r)
}

func (t *Tracker) retention() metrics.Retention {
	r, _ := t.ret.Load().(metrics.Retention)
	return r
}

// SetHistoryLimit sets the history cap; n <= 0 or above the default selects
// the default.
func (t *Tracker) SetHistoryLimit(n int) {
	if n <= 0 || n > DefaultHistoryLimit {
		n = DefaultHistoryLimit
	}
	t.limit.Store(int64(n))
}

func (t *Tracker) HistoryLimit() int { return int(t.limit.Load()) }

// Snapshot returns the current accumulator. It shares backing arrays with the
// tracker and must be treated as read-only; use Clone to modify it.
func (t *Tracker) Snapshot() metrics.Snapshot { return t.cur.Load().snap }

// Version increases by one with every transition.
func (t *Tracker) Version() uint64 { return t.cur.Load().version }

// Apply derives a new snapshot from the current one. The transition is
// dropped if fn returns an error.
func (t *Tracker) Apply(fn func(metrics.Snapshot) (metrics.Snapshot, error)) (uint64, error) {
	t.mu.Lock()
	prev := t.cur.Load()
	next, err := fn(prev.snap)
	if err != nil {
		t.mu.Unlock()
		return prev.version, err
	}
	st := &state{snap: next, version: prev.version + 1}
	t.cur.Store(st)
	t.mu.Unlock()

	t.bus.Publish(eventbus.Event{Type: eventbus.MetricsUpdated, Version: st.version})
	t.markDirty()
	return st.version, nil
}

func (t *Tracker) RecordVoice(s metrics.VoiceSample) error {
	now := t.now()
	_, err := t.Apply(func(cur metrics.Snapshot) (metrics.Snapshot, error) {
		return cur.WithVoice(s, now, t.retention()), nil
	})
	return err
}

func (t *Tracker) RecordHTTP(dir metrics.HTTPDirection, s metrics.HTTPSample) error {
	_, err := t.Apply(func(cur metrics.Snapshot) (metrics.Snapshot, error) {
		return cur.WithHTTP(dir, s, t.retention())
	})
	return err
}

func (t *Tracker) RecordBrowsing(s metrics.BrowsingSample) error {
	_, err := t.Apply(func(cur metrics.Snapshot) (metrics.Snapshot, error) {
		return cur.WithBrowsing(s, t.retention()), nil
	})
	return err
}

func (t *Tracker) RecordStreaming(s metrics.StreamingSample) error {
	_, err := t.Apply(func(cur metrics.Snapshot) (metrics.Snapshot, error) {
		return cur.WithStreaming(s, t.retention()), nil
	})
	return err
}

func (t *Tracker) RecordSocial(s metrics.SocialSample) error {
	_, err := t.Apply(func(cur metrics.Snapshot) (metrics.Snapshot, error) {
		return cur.WithSocial(s, t.retention()), nil
	})
	return err
}

// Scores returns the tree for the current snapshot, computing it at most
// once per version.
func (t *Tracker) Scores() qoe.Tree {
	return t.scoresFor(t.cur.Load())
}

func (t *Tracker) scoresFor(st *state) qoe.Tree {
	t.scoreMu.Lock()
	defer t.scoreMu.Unlock()
	if t.scored != nil && t.scored.version == st.version {
		return t.scored.tree
	}
	tree := t.scorer.Calculate(st.snap)
	if t.scored == nil || st.version > t.scored.version {
		t.scored = &scored{version: st.version, tree: tree}
	}
	return tree
}

// Reset replaces the accumulator with an empty one and deletes the persisted
// metrics blob. History is kept.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	st := &state{snap: metrics.New(), version: t.cur.Load().version + 1}
	t.cur.Store(st)
	t.mu.Unlock()

	t.persistMu.Lock()
	t.flushed = st.version
	err := t.store.Delete(ctx, KeyMetrics)
	t.persistMu.Unlock()

	t.bus.Publish(eventbus.Event{Type: eventbus.MetricsReset, Version: st.version})
	if err != nil {
		t.log.Warn("failed to clear persisted metrics", logx.Err(err))
		return fmt.Errorf("delete %s: %w", KeyMetrics, err)
	}
	t.log.Info("metrics reset", logx.Uint64("version", st.version))
	return nil
}

// Load restores the persisted snapshot and history. Missing blobs are not an
// error; undecodable ones are logged and the tracker keeps its empty state.
func (t *Tracker) Load(ctx context.Context) error {
	var errs []error

	b, err := t.store.Get(ctx, KeyMetrics)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		errs = append(errs, fmt.Errorf("get %s: %w", KeyMetrics, err))
	default:
		var snap metrics.Snapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			t.log.Warn("discarding undecodable metrics", logx.Err(err), logx.Int("bytes", len(b)))
		} else {
			snap.Normalize()
			t.mu.Lock()
			st := &state{snap: snap, version: t.cur.Load().version + 1}
			t.cur.Store(st)
			t.mu.Unlock()
			t.persistMu.Lock()
			t.flushed = st.version
			t.persistMu.Unlock()
			t.log.Info("metrics restored", logx.Int("samples", snap.SampleCount()))
		}
	}

	b, err = t.store.Get(ctx, KeyHistory)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		errs = append(errs, fmt.Errorf("get %s: %w", KeyHistory, err))
	default:
		var entries []HistoryEntry
		if err := json.Unmarshal(b, &entries); err != nil {
			t.log.Warn("discarding undecodable history", logx.Err(err), logx.Int("bytes", len(b)))
			break
		}
		for i := range entries {
			entries[i].Metrics.Normalize()
		}
		if limit := t.HistoryLimit(); len(entries) > limit {
			entries = entries[:limit]
		}
		t.histMu.Lock()
		t.history = entries
		t.histMu.Unlock()
		t.log.Info("history restored", logx.Int("entries", len(entries)))
	}
	return errors.Join(errs...)
}
