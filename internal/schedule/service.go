// Package schedule triggers a single recurring job from a cron or interval
// specification, such as the periodic history snapshot.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "qoemeter/pkg/logx"
)

// Job is invoked on every tick with a context bounded by the run timeout.
type Job func(ctx context.Context) error

type Service struct {
	name    string
	job     Job
	timeout time.Duration
	log     logx.Logger

	mu   sync.Mutex
	base context.Context
	c    *cron.Cron
	id   cron.EntryID
	raw  string
	tz   string
	// stopped keeps a late Apply from restarting the cron after Stop.
	stopped bool

	runs     atomic.Uint64
	failures atomic.Uint64
}

// New creates a stopped service. timeout <= 0 leaves job runs unbounded.
func New(name string, job Job, timeout time.Duration, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		name:    name,
		job:     job,
		timeout: timeout,
		log:     log.With(logx.String("comp", "schedule"), logx.String("job", name)),
	}
}

// Start begins triggering. An empty spec leaves the service idle until a
// later Apply sets one.
func (s *Service) Start(ctx context.Context, spec, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
	s.stopped = false
	return s.applyLocked(spec, tz)
}

// Apply swaps the schedule. The previous one keeps running if the new one is
// invalid. Before Start or after Stop it only records the spec.
func (s *Service) Apply(spec, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil || s.stopped {
		s.raw, s.tz = strings.TrimSpace(spec), strings.TrimSpace(tz)
		return nil
	}
	return s.applyLocked(spec, tz)
}

func (s *Service) applyLocked(spec, tz string) error {
	spec, tz = strings.TrimSpace(spec), strings.TrimSpace(tz)
	if s.c != nil && spec == s.raw && tz == s.tz {
		return nil
	}
	if spec == "" {
		s.stopLocked()
		s.raw, s.tz = "", tz
		s.log.Info("schedule disabled")
		return nil
	}

	parsed, err := Parse(spec)
	if err != nil {
		return err
	}
	sched, err := parsed.Schedule()
	if err != nil {
		return err
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return err
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	id := c.Schedule(sched, cron.FuncJob(s.run))

	s.stopLocked()
	s.c, s.id, s.raw, s.tz = c, id, spec, tz
	c.Start()
	s.log.Info("schedule started",
		logx.String("spec", parsed.String()),
		logx.String("kind", parsed.Kind.String()),
		logx.String("tz", loc.String()),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

func (s *Service) run() {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	ctx, cancel := base, context.CancelFunc(func() {})
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, s.timeout)
	}
	defer cancel()

	start := time.Now()
	n := s.runs.Add(1)
	if err := s.job(ctx); err != nil {
		s.failures.Add(1)
		s.log.Warn("scheduled run failed", logx.Uint64("run", n), logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("scheduled run done", logx.Uint64("run", n), logx.Duration("took", time.Since(start)))
}

// Stop halts triggering and waits for a running job, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Service) stopLocked() {
	if s.c != nil {
		// Do not wait: the job may be blocked on s.mu.
		s.c.Stop()
		s.c = nil
	}
}

// Next reports the next activation, if scheduled.
func (s *Service) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}, false
	}
	return s.c.Entry(s.id).Next, true
}

// Stats returns the number of runs and failed runs so far.
func (s *Service) Stats() (runs, failures uint64) {
	return s.runs.Load(), s.failures.Load()
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger routes cron's own messages to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
