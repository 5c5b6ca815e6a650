// Package exporter publishes the score tree as Prometheus gauges.
package exporter

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qoemeter/internal/eventbus"
	"qoemeter/internal/qoe"
	logx "qoemeter/pkg/logx"
)

// Source is the live state the gauges mirror.
type Source interface {
	Scores() qoe.Tree
	Version() uint64
	HistoryLen() int
}

type Exporter struct {
	reg *prometheus.Registry
	src Source
	log logx.Logger

	score        *prometheus.GaugeVec
	applied      *prometheus.GaugeVec
	scalar       *prometheus.GaugeVec
	version      prometheus.Gauge
	history      prometheus.Gauge
	historySaves prometheus.Counter
	resets       prometheus.Counter
	ingest       *prometheus.CounterVec
	updates      prometheus.Counter
}

// New registers the qoemeter collectors, plus the Go and process
// collectors, on a fresh registry.
func New(src Source, log logx.Logger) *Exporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Exporter{
		reg: reg,
		src: src,
		log: log.With(logx.String("comp", "exporter")),

		score: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qoemeter_score",
			Help: "Score in [0,1] per tree node; absent while the node has no data",
		}, []string{"node"}),
		applied: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qoemeter_applied_weight",
			Help: "Weight actually backed by data per tree node",
		}, []string{"node"}),
		scalar: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qoemeter_metric_value",
			Help: "Derived metric value before threshold mapping",
		}, []string{"category", "metric"}),
		version: f.NewGauge(prometheus.GaugeOpts{
			Name: "qoemeter_snapshot_version",
			Help: "Number of accumulator transitions since start",
		}),
		history: f.NewGauge(prometheus.GaugeOpts{
			Name: "qoemeter_history_entries",
			Help: "Entries currently in the history log",
		}),
		historySaves: f.NewCounter(prometheus.CounterOpts{
			Name: "qoemeter_history_saves_total",
			Help: "History snapshots taken",
		}),
		resets: f.NewCounter(prometheus.CounterOpts{
			Name: "qoemeter_resets_total",
			Help: "Accumulator resets",
		}),
		ingest: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qoemeter_ingest_total",
			Help: "Sample events received by category and result",
		}, []string{"category", "result"}),
		updates: f.NewCounter(prometheus.CounterOpts{
			Name: "qoemeter_exporter_refreshes_total",
			Help: "Gauge refreshes performed",
		}),
	}
}

func (e *Exporter) Registry() *prometheus.Registry { return e.reg }

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{Registry: e.reg})
}

// ObserveIngest counts one sample event. result is "ok", "invalid" or "limited".
func (e *Exporter) ObserveIngest(category, result string) {
	e.ingest.WithLabelValues(category, result).Inc()
}

// Refresh copies the current tree into the gauges. Null nodes and metrics
// have their series removed rather than reported as zero.
func (e *Exporter) Refresh() {
	tree := e.src.Scores()
	for _, n := range tree.Nodes() {
		if n.Node.Score == nil {
			e.score.DeleteLabelValues(n.Name)
		} else {
			e.score.WithLabelValues(n.Name).Set(*n.Node.Score)
		}
		e.applied.WithLabelValues(n.Name).Set(n.Node.AppliedWeight)
	}
	for _, s := range tree.Scalars() {
		if s.Value == nil {
			e.scalar.DeleteLabelValues(s.Category, s.Name)
			continue
		}
		e.scalar.WithLabelValues(s.Category, s.Name).Set(*s.Value)
	}
	e.version.Set(float64(e.src.Version()))
	e.history.Set(float64(e.src.HistoryLen()))
	e.updates.Inc()
}

// Run refreshes the gauges on bus events until ctx is done. Bursts are
// coalesced to at most one refresh per minInterval.
func (e *Exporter) Run(ctx context.Context, bus eventbus.Bus, minInterval time.Duration) error {
	events, unsub := bus.Subscribe(64)
	defer unsub()
	e.Refresh()

	var (
		pending bool
		tick    *time.Timer
		tickC   <-chan time.Time
	)
	defer func() {
		if tick != nil {
			tick.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case eventbus.HistorySaved:
				e.historySaves.Inc()
			case eventbus.MetricsReset:
				e.resets.Inc()
			}
			if minInterval <= 0 {
				e.Refresh()
				continue
			}
			if tickC == nil {
				e.Refresh()
				tick = time.NewTimer(minInterval)
				tickC = tick.C
				continue
			}
			pending = true
		case <-tickC:
			tickC = nil
			if pending {
				pending = false
				e.Refresh()
				tick.Reset(minInterval)
				tickC = tick.C
			}
		}
	}
}
