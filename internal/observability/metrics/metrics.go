// Package metrics turns game lifecycle events into Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gamebot/internal/eventbus"
	logx "gamebot/pkg/logx"
)

const namespace = "gamebot"

// Collector owns a private registry so tests and the debug server never see
// series registered elsewhere.
type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	started     *prometheus.CounterVec
	finished    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	recovered   *prometheus.CounterVec
	active      prometheus.Gauge
	providerErr *prometheus.CounterVec
	storeErr    *prometheus.CounterVec
	rewards     *prometheus.CounterVec
	skipped     *prometheus.CounterVec
}

func New(log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		reg: prometheus.NewRegistry(),
		log: log.With(logx.String("comp", "metrics")),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_started_total",
			Help: "Sessions announced, by challenge kind.",
		}, []string{"kind"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_finished_total",
			Help: "Sessions resolved, by challenge kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "session_duration_seconds",
			Help:    "Time from announce to resolution.",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 180, 300, 600},
		}, []string{"outcome"}),
		recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_recovered_total",
			Help: "Sessions re-armed from persisted state at boot.",
		}, []string{"kind"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Sessions currently running across all channels.",
		}),
		providerErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_failures_total",
			Help: "Content provider failures, by kind.",
		}, []string{"kind"}),
		storeErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_write_failures_total",
			Help: "Swallowed persistence write failures, by operation.",
		}, []string{"op"}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rewards_granted_total",
			Help: "Threshold grants applied, by grant id.",
		}, []string{"grant"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_skipped_total",
			Help: "Scheduler ticks that did not start a session, by reason.",
		}, []string{"reason"}),
	}
	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.started, c.finished, c.duration, c.recovered, c.active,
		c.providerErr, c.storeErr, c.rewards, c.skipped,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256,
		eventbus.SessionStarted, eventbus.SessionWon, eventbus.SessionTimedOut,
		eventbus.SessionRecovered, eventbus.ProviderFailed, eventbus.StoreWriteFailed,
		eventbus.RewardGranted, eventbus.TickSkipped,
	)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Observe applies one event.
func (c *Collector) Observe(ev eventbus.Event) {
	switch d := ev.Data.(type) {
	case eventbus.SessionEvent:
		switch ev.Type {
		case eventbus.SessionStarted:
			c.started.WithLabelValues(d.Kind).Inc()
			c.active.Inc()
		case eventbus.SessionRecovered:
			c.recovered.WithLabelValues(d.Kind).Inc()
			c.active.Inc()
		case eventbus.SessionWon:
			c.finish(d, "won")
		case eventbus.SessionTimedOut:
			c.finish(d, "timed_out")
		}
	case eventbus.FailureEvent:
		switch ev.Type {
		case eventbus.ProviderFailed:
			c.providerErr.WithLabelValues(d.Kind).Inc()
		case eventbus.StoreWriteFailed:
			c.storeErr.WithLabelValues(d.Op).Inc()
		case eventbus.TickSkipped:
			c.skipped.WithLabelValues(d.Op).Inc()
		}
	case eventbus.RewardEvent:
		c.rewards.WithLabelValues(d.GrantID).Inc()
	default:
		c.log.Debug("unexpected event payload", logx.String("type", ev.Type))
	}
}

func (c *Collector) finish(d eventbus.SessionEvent, outcome string) {
	c.finished.WithLabelValues(d.Kind, outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(d.Duration.Seconds())
	c.active.Dec()
}
