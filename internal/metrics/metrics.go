// Package metrics exports tracker activity and the per-cycle book record as
// Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
	"github.com/alanyoungcy/bookimbalance/internal/strategy"
)

const namespace = "imbalance"

// Metrics holds every collector on a private registry. It implements
// strategy.Observer.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal     *prometheus.CounterVec
	DecisionsTotal *prometheus.CounterVec
	Ratio          *prometheus.GaugeVec
	RatioHist      *prometheus.HistogramVec
	LevelPrice     *prometheus.GaugeVec
	MidPrice       *prometheus.GaugeVec
	Position       *prometheus.GaugeVec
	Halted         *prometheus.GaugeVec
	ExecutorErrors *prometheus.CounterVec
}

// New creates and registers the collectors, including the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total",
			Help: "Ticks handled by instrument and outcome.",
		}, []string{"instrument", "outcome"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decisions_total",
			Help: "Evaluation decisions by instrument and action.",
		}, []string{"instrument", "action"}),
		Ratio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ratio",
			Help: "Latest depth-weighted imbalance ratio.",
		}, []string{"instrument"}),
		RatioHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ratio_distribution",
			Help:    "Distribution of evaluated imbalance ratios.",
			Buckets: prometheus.LinearBuckets(-1, 0.1, 21),
		}, []string{"instrument"}),
		LevelPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "level_price",
			Help: "Price of the two best levels per side.",
		}, []string{"instrument", "level"}),
		MidPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "mid_price",
			Help: "Mid price at the last evaluation.",
		}, []string{"instrument"}),
		Position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "position",
			Help: "Target position after the last decision: 1 long, 0 flat, -1 short.",
		}, []string{"instrument"}),
		Halted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "halted",
			Help: "1 when the tracker stopped after a book invariant violation.",
		}, []string{"instrument"}),
		ExecutorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "executor_errors_total",
			Help: "Decision hand-off failures by target.",
		}, []string{"target"}),
	}
	m.registry.MustRegister(
		m.TicksTotal, m.DecisionsTotal, m.Ratio, m.RatioHist, m.LevelPrice,
		m.MidPrice, m.Position, m.Halted, m.ExecutorErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// OnTick counts one tick outcome.
func (m *Metrics) OnTick(instrument string, outcome strategy.TickOutcome) {
	m.TicksTotal.WithLabelValues(instrument, string(outcome)).Inc()
}

// OnEvaluation records the per-cycle book metrics and the decision.
func (m *Metrics) OnEvaluation(_ context.Context, ev strategy.Evaluation) {
	inst := ev.Metrics.Instrument
	m.Ratio.WithLabelValues(inst).Set(ev.Metrics.Ratio)
	m.RatioHist.WithLabelValues(inst).Observe(ev.Metrics.Ratio)
	m.MidPrice.WithLabelValues(inst).Set(ev.Metrics.MidPrice)
	m.LevelPrice.WithLabelValues(inst, "bid_l1").Set(ev.Metrics.BidL1)
	m.LevelPrice.WithLabelValues(inst, "bid_l2").Set(ev.Metrics.BidL2)
	m.LevelPrice.WithLabelValues(inst, "ask_l1").Set(ev.Metrics.AskL1)
	m.LevelPrice.WithLabelValues(inst, "ask_l2").Set(ev.Metrics.AskL2)

	d := ev.Decision
	m.DecisionsTotal.WithLabelValues(d.Instrument, string(d.Action)).Inc()
	switch d.To {
	case domain.Long:
		m.Position.WithLabelValues(d.Instrument).Set(1)
	case domain.Short:
		m.Position.WithLabelValues(d.Instrument).Set(-1)
	default:
		m.Position.WithLabelValues(d.Instrument).Set(0)
	}
}

// OnHalt flags instrument as halted.
func (m *Metrics) OnHalt(_ context.Context, instrument string, _ error) {
	m.Halted.WithLabelValues(instrument).Set(1)
}

// ExecutorError counts a failed hand-off to target.
func (m *Metrics) ExecutorError(target string) {
	m.ExecutorErrors.WithLabelValues(target).Inc()
}

var _ strategy.Observer = (*Metrics)(nil)
