// Package metrics exports scheduler measurements to Prometheus. Collector
// implements engine.Observer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/thread"
)

const namespace = "tether"

// Collector holds the scheduler metrics.
type Collector struct {
	ticks          prometheus.Counter
	throttled      *prometheus.CounterVec
	flushed        prometheus.Counter
	outcomes       *prometheus.CounterVec
	processed      prometheus.Counter
	tickDuration   prometheus.Histogram
	liveExecutions prometheus.Gauge
	workSet        prometheus.Gauge
	lifecycle      *prometheus.CounterVec
	diagnostics    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks run",
		}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_throttled_total",
			Help:      "Ticks stopped early by a budget trigger",
		}, []string{"reason"}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_flushed_total",
			Help:      "Ticks run unthrottled because pacing fell behind",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_outcomes_total",
			Help:      "Budgeted outcomes counted by ticks",
		}, []string{"outcome"}), // resource_block, effect_block, resource_cleanup, effect_cleanup
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_processed_total",
			Help:      "Work-set entries processed",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent advancing executions per tick",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		liveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_live",
			Help:      "Executions that have not finished",
		}),
		workSet: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "work_set_size",
			Help:      "Executions waiting for the next tick",
		}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Execution lifecycle events",
		}, []string{"kind"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Protocol diagnostics reported by the thread registry",
		}, []string{"kind"}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.ticks,
		c.throttled,
		c.flushed,
		c.outcomes,
		c.processed,
		c.tickDuration,
		c.liveExecutions,
		c.workSet,
		c.lifecycle,
		c.diagnostics,
	)
	return c
}

// ObserveTick implements engine.Observer.
func (c *Collector) ObserveTick(r engine.TickReport) {
	c.ticks.Inc()
	if r.Throttled {
		c.throttled.WithLabelValues(r.Reason).Inc()
	}
	if r.Flushed {
		c.flushed.Inc()
	}
	c.outcomes.WithLabelValues("resource_block").Add(float64(r.Counts.ResourceBlocks))
	c.outcomes.WithLabelValues("effect_block").Add(float64(r.Counts.EffectBlocks))
	c.outcomes.WithLabelValues("resource_cleanup").Add(float64(r.Counts.ResourceCleanups))
	c.outcomes.WithLabelValues("effect_cleanup").Add(float64(r.Counts.EffectCleanups))
	c.processed.Add(float64(r.Processed))
	c.tickDuration.Observe(r.Elapsed.Seconds())
	c.liveExecutions.Set(float64(r.Live))
	c.workSet.Set(float64(r.Pending))
}

// ObserveEvent implements engine.Observer.
func (c *Collector) ObserveEvent(ev engine.Event) {
	c.lifecycle.WithLabelValues(string(ev.Kind)).Inc()
}

// ObserveDiagnostic implements engine.Observer.
func (c *Collector) ObserveDiagnostic(d thread.Diagnostic) {
	c.diagnostics.WithLabelValues(string(d.Kind)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

var _ engine.Observer = (*Collector)(nil)
