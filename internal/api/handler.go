// Package api serves the JSON surface of the daemon: sample ingest, score
// and history reads, reset and export.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"qoemeter/internal/metrics"
	"qoemeter/internal/qoe"
	"qoemeter/internal/session"
	logx "qoemeter/pkg/logx"
)

// maxBody bounds sample payloads.
const maxBody = 1 << 20

// IngestObserver is told about every sample request.
type IngestObserver interface {
	ObserveIngest(category, result string)
}

// Ingest results reported to IngestObserver.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultLimited = "limited"
)

type Options struct {
	Tracker *session.Tracker
	Log     logx.Logger

	// RatePerSec limits all sample posts together; 0 disables limiting.
	RatePerSec float64
	Burst      int

	Token   string
	Pprof   bool
	Metrics http.Handler
	Observe IngestObserver

	// Health adds fields to the /healthz body.
	Health func() map[string]any
}

type handler struct {
	t       *session.Tracker
	log     logx.Logger
	limiter *rate.Limiter
	observe IngestObserver
	health  func() map[string]any
}

type nopObserver struct{}

func (nopObserver) ObserveIngest(string, string) {}

// NewHandler builds the route table.
func NewHandler(opts Options) http.Handler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handler{
		t:       opts.Tracker,
		log:     log.With(logx.String("comp", "api")),
		observe: opts.Observe,
		health:  opts.Health,
	}
	if h.observe == nil {
		h.observe = nopObserver{}
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = max(1, int(opts.RatePerSec))
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	auth := func(fn http.HandlerFunc) http.HandlerFunc { return withAuth(opts.Token, fn) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.HandleFunc("GET /v1/metrics", auth(h.getMetrics))
	mux.HandleFunc("GET /v1/scores", auth(h.getScores))
	mux.HandleFunc("POST /v1/samples/voice", auth(ingest(h, "voice", func(s metrics.VoiceSample) error {
		return h.t.RecordVoice(s)
	})))
	mux.HandleFunc("POST /v1/samples/browsing", auth(ingest(h, "browsing", func(s metrics.BrowsingSample) error {
		return h.t.RecordBrowsing(s)
	})))
	mux.HandleFunc("POST /v1/samples/streaming", auth(ingest(h, "streaming", func(s metrics.StreamingSample) error {
		return h.t.RecordStreaming(s)
	})))
	mux.HandleFunc("POST /v1/samples/social", auth(ingest(h, "social", func(s metrics.SocialSample) error {
		return h.t.RecordSocial(s)
	})))
	mux.HandleFunc("POST /v1/samples/http/{direction}", auth(h.postHTTP))
	mux.HandleFunc("POST /v1/reset", auth(h.reset))
	mux.HandleFunc("GET /v1/history", auth(h.getHistory))
	mux.HandleFunc("POST /v1/history", auth(h.saveHistory))
	mux.HandleFunc("DELETE /v1/history", auth(h.clearHistory))
	mux.HandleFunc("GET /v1/export", auth(h.export))

	if opts.Pprof {
		mux.HandleFunc("GET /debug/pprof/", auth(hpprof.Index))
		mux.HandleFunc("GET /debug/pprof/cmdline", auth(hpprof.Cmdline))
		mux.HandleFunc("GET /debug/pprof/profile", auth(hpprof.Profile))
		mux.HandleFunc("GET /debug/pprof/symbol", auth(hpprof.Symbol))
		mux.HandleFunc("GET /debug/pprof/trace", auth(hpprof.Trace))
	}

	return h.logRequests(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "version": h.t.Version()}
	if h.health != nil {
		for k, v := range h.health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) getMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.t.Snapshot())
}

func (h *handler) getScores(w http.ResponseWriter, r *http.Request) {
	tree := h.t.Scores()
	switch view := r.URL.Query().Get("view"); view {
	case "", "tree":
		writeJSON(w, http.StatusOK, tree)
	case "display":
		writeJSON(w, http.StatusOK, qoe.Summary(tree))
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown view %q", view))
	}
}

// allow consumes one ingest token. It writes the 429 itself.
func (h *handler) allow(w http.ResponseWriter, category string) bool {
	if h.limiter == nil || h.limiter.Allow() {
		return true
	}
	h.observe.ObserveIngest(category, ResultLimited)
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "ingest rate limit exceeded")
	return false
}

func decodeSample(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBody+1)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return fmt.Errorf("decode sample: %w", err)
	}
	if dec.More() {
		return errors.New("decode sample: trailing data")
	}
	return nil
}

// ingest adapts a typed record func into a sample endpoint.
func ingest[S any](h *handler, category string, record func(S) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allow(w, category) {
			return
		}
		var s S
		if err := decodeSample(r, &s); err != nil {
			h.observe.ObserveIngest(category, ResultInvalid)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := record(s); err != nil {
			h.observe.ObserveIngest(category, ResultInvalid)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.observe.ObserveIngest(category, ResultOK)
		writeJSON(w, http.StatusAccepted, map[string]uint64{"version": h.t.Version()})
	}
}

func (h *handler) postHTTP(w http.ResponseWriter, r *http.Request) {
	dir, err := metrics.ParseDirection(r.PathValue("direction"))
	if err != nil {
		h.observe.ObserveIngest("http", ResultInvalid)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%v: %q", err, r.PathValue("direction")))
		return
	}
	ingest(h, "http", func(s metrics.HTTPSample) error {
		return h.t.RecordHTTP(dir, s)
	})(w, r)
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.t.Reset(r.Context()); err != nil {
		// The in-memory reset already happened; only the store lagged.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getHistory(w http.ResponseWriter, _ *http.Request) {
	hist := h.t.History()
	if hist == nil {
		hist = []session.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *handler) saveHistory(w http.ResponseWriter, r *http.Request) {
	e, err := h.t.SaveHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.t.ClearHistory(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	exp := h.t.Export()
	name := "qoe-export-" + exp.ExportDate.Format("2006-01-02")
	format := "json"
	if f := strings.ToLower(r.URL.Query().Get("format")); f != "" {
		format = f
	}
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.json"`)
		if err := exp.WriteJSON(w); err != nil {
			h.log.Warn("export write failed", logx.Err(err))
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.csv"`)
		if err := exp.WriteCSV(w); err != nil {
			h.log.Warn("export write failed", logx.Err(err))
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q (json|csv)", format))
	}
}

// withAuth requires the token as "Authorization: Bearer <token>" or
// ?token=<token>. An empty token disables the check.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.log.Enabled(logx.LevelDebug) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)),
		)
	})
}
