package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "qoemeter/pkg/logx"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
	}{
		{name: "cron", raw: "*/15 * * * *", kind: KindCron, source: "cron"},
		{name: "cron with seconds", raw: "0 30 * * * *", kind: KindCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: KindCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCron, source: "cron"},
		{name: "duration", raw: "15m", kind: KindInterval, source: "duration", every: 15 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, source: "duration", every: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every:00:20", kind: KindInterval, source: "hhmm", every: 20 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: KindInterval, source: "hhmm", every: 90 * time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("Parse(%q) = %+v", tt.raw, got)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if _, err := got.Schedule(); err != nil {
				t.Fatalf("Schedule: %v", err)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:75", "0s", "-5m", "cron:", "61 * * * *", "interval:abc"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q) should fail", raw)
		}
	}
}

func TestServiceRunsJob(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	done := make(chan struct{}, 1)
	s := New("history", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context should carry the run timeout")
		}
		if calls.Add(1) == 1 {
			done <- struct{}{}
		}
		return errors.New("store down")
	}, time.Second, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx, "1s", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if next, ok := s.Next(); !ok || next.IsZero() {
		t.Fatalf("Next = %v, %v", next, ok)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	s.Stop(context.Background())
	runs, failures := s.Stats()
	if runs == 0 || failures != runs {
		t.Fatalf("stats = %d runs, %d failures", runs, failures)
	}
}

func TestServiceApply(t *testing.T) {
	t.Parallel()
	s := New("history", func(context.Context) error { return nil }, 0, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, "", ""); err != nil {
		t.Fatalf("Start idle: %v", err)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("idle service should have no next run")
	}
	if err := s.Apply("@daily", "UTC"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	first, ok := s.Next()
	if !ok {
		t.Fatal("expected a next run")
	}
	if first.Hour() != 0 || first.Minute() != 0 {
		t.Fatalf("@daily next = %v, want midnight UTC", first)
	}

	if err := s.Apply("bogus", "UTC"); err == nil {
		t.Fatal("invalid spec should be rejected")
	}
	if err := s.Apply("@hourly", "Mars/Olympus"); err == nil {
		t.Fatal("invalid timezone should be rejected")
	}
	if again, ok := s.Next(); !ok || !again.Equal(first) {
		t.Fatalf("rejected Apply replaced the schedule: %v", again)
	}

	if err := s.Apply("", ""); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("disabled service should have no next run")
	}
	s.Stop(context.Background())
}

func TestApplyAfterStopStaysStopped(t *testing.T) {
	t.Parallel()
	s := New("history", func(context.Context) error { return nil }, 0, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, "1h", "UTC"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop(context.Background())
	if err := s.Apply("@hourly", "UTC"); err != nil {
		t.Fatalf("Apply after Stop: %v", err)
	}
	if next, ok := s.Next(); ok {
		t.Fatalf("Apply after Stop restarted the schedule, next %v", next)
	}

	if err := s.Start(ctx, "", ""); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := s.Apply("@hourly", "UTC"); err != nil {
		t.Fatalf("Apply after restart: %v", err)
	}
	if _, ok := s.Next(); !ok {
		t.Fatal("a restarted service should accept new schedules")
	}
	s.Stop(context.Background())
}
