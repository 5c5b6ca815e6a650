package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"qoemeter/internal/metrics"
	"qoemeter/internal/qoe"
	"qoemeter/internal/session"
	logx "qoemeter/pkg/logx"
)

type countingObserver struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *countingObserver) ObserveIngest(category, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = map[string]int{}
	}
	c.seen[category+"/"+result]++
}

func (c *countingObserver) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[key]
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *session.Tracker) {
	t.Helper()
	tr := session.New(session.Options{})
	opts.Tracker = tr
	opts.Log = logx.Nop()
	srv := httptest.NewServer(NewHandler(opts))
	t.Cleanup(srv.Close)
	return srv, tr
}

func do(t *testing.T, method, url, body string, hdr ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, b
}

func TestIngestAndRead(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	srv, tr := newTestServer(t, Options{Observe: obs})

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/samples/voice", `{"setupSuccessful":true,"callCompleted":true,"mos":4.8}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("voice status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/samples/http/download", `{"completed":true,"throughputMbps":80}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("http status = %d", resp.StatusCode)
	}
	if tr.Version() != 2 {
		t.Fatalf("version = %d", tr.Version())
	}

	_, body := do(t, http.MethodGet, srv.URL+"/v1/metrics", "")
	var snap metrics.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if snap.Voice.Attempts != 1 || snap.Data.HTTP.DL.Requests != 1 || len(snap.Data.HTTP.DL.Throughputs) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/v1/scores", "")
	var tree qoe.Tree
	if err := json.Unmarshal(body, &tree); err != nil {
		t.Fatalf("decode scores: %v", err)
	}
	if tree.Voice.Score == nil || *tree.Voice.Score != 1 {
		t.Fatalf("voice score = %v", tree.Voice.Score)
	}
	if tree.Browsing.Score != nil {
		t.Fatal("browsing has no data and must be null")
	}
	if !strings.Contains(string(body), `"browsing":{"score":null`) {
		t.Fatalf("null scores must be explicit: %s", body)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/v1/scores?view=display", "")
	var lines []qoe.Line
	if err := json.Unmarshal(body, &lines); err != nil {
		t.Fatalf("decode display: %v", err)
	}
	if len(lines) == 0 || lines[0].Name != "overall" || lines[1].Score != "100%" {
		t.Fatalf("display = %+v", lines)
	}
	if obs.count("voice/ok") != 1 || obs.count("http/ok") != 1 {
		t.Fatalf("observer = %v", obs.seen)
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	srv, tr := newTestServer(t, Options{Observe: obs})

	tests := []struct {
		name, path, body string
	}{
		{"unknown direction", "/v1/samples/http/sideways", `{"completed":true}`},
		{"bad json", "/v1/samples/browsing", `{"completed":`},
		{"empty body", "/v1/samples/social", ``},
		{"wrong type", "/v1/samples/streaming", `{"mos":"great"}`},
		{"trailing data", "/v1/samples/voice", `{} {}`},
	}
	for _, tt := range tests {
		resp, body := do(t, http.MethodPost, srv.URL+tt.path, tt.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tt.name, resp.StatusCode)
		}
		var e map[string]string
		if err := json.Unmarshal(body, &e); err != nil || e["error"] == "" {
			t.Fatalf("%s: body = %s", tt.name, body)
		}
	}
	if tr.Version() != 0 {
		t.Fatalf("rejected samples changed state: version %d", tr.Version())
	}
	if obs.count("http/invalid") != 1 {
		t.Fatalf("observer = %v", obs.seen)
	}

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/scores?view=pie", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown view status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPut, srv.URL+"/v1/history", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("PUT history status = %d", resp.StatusCode)
	}
}

func TestIngestRateLimit(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	srv, _ := newTestServer(t, Options{RatePerSec: 0.001, Burst: 1, Observe: obs})

	resp, _ := do(t, http.MethodPost, srv.URL+"/v1/samples/social", `{"completed":true}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/samples/social", `{"completed":true}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("429 should carry Retry-After")
	}
	if obs.count("social/limited") != 1 {
		t.Fatalf("observer = %v", obs.seen)
	}
	// Reads are never limited.
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", resp.StatusCode)
	}
}

func TestHistoryAndReset(t *testing.T) {
	t.Parallel()
	srv, tr := newTestServer(t, Options{})
	if err := tr.RecordBrowsing(metrics.BrowsingSample{Completed: true}); err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/history", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("save status = %d", resp.StatusCode)
	}
	var saved session.HistoryEntry
	if err := json.Unmarshal(body, &saved); err != nil || saved.ID == "" {
		t.Fatalf("saved = %s (%v)", body, err)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/v1/history", "")
	var hist []session.HistoryEntry
	if err := json.Unmarshal(body, &hist); err != nil || len(hist) != 1 || hist[0].ID != saved.ID {
		t.Fatalf("history = %s", body)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/v1/reset", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	if tr.Snapshot().SampleCount() != 0 || tr.Snapshot().Data.Browsing.Requests != 0 {
		t.Fatal("reset should empty the accumulator")
	}
	if tr.HistoryLen() != 1 {
		t.Fatal("reset must keep history")
	}

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/history", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	_, body = do(t, http.MethodGet, srv.URL+"/v1/history", "")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("cleared history = %s", body)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()
	srv, tr := newTestServer(t, Options{})
	if err := tr.RecordSocial(metrics.SocialSample{Completed: true}); err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/export?format=csv", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/csv" {
		t.Fatalf("csv status = %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.HasPrefix(string(body), "Timestamp,Overall Score,") {
		t.Fatalf("csv = %s", body)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), ".csv") {
		t.Fatalf("disposition = %q", resp.Header.Get("Content-Disposition"))
	}

	_, body = do(t, http.MethodGet, srv.URL+"/v1/export", "")
	var exp session.Export
	if err := json.Unmarshal(body, &exp); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if exp.CurrentMetrics.Data.Social.Requests != 1 || exp.History == nil {
		t.Fatalf("export = %+v", exp)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/export?format=xml", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("xml status = %d", resp.StatusCode)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Options{
		Token:   "s3cret",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
		Health:  func() map[string]any { return map[string]any{"tasks": 3} },
	})

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/metrics", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/metrics?token=wrong", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/metrics", "", "Authorization", "Bearer s3cret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/v1/metrics?token=s3cret", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query token status = %d", resp.StatusCode)
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"tasks":3`) {
		t.Fatalf("healthz = %d %s", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "# metrics") {
		t.Fatalf("metrics = %d %s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/debug/pprof/", "", "Authorization", "Bearer s3cret")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pprof should be off by default, got %d", resp.StatusCode)
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		logx.Nop())
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("Serve before Listen should fail")
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	resp, _ := do(t, http.MethodGet, "http://"+s.Addr()+"/", "")
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.5:8080":  false,
		"garbage":        false,
	} {
		if got := IsLoopbackAddr(addr); got != want {
			t.Fatalf("IsLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
