// Package prom exports query cache metrics to Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sukvvon/query/query"
)

// Adapter implements query.Metrics and exports Prometheus
// counters/gauges. Safe for concurrent use; all Prometheus metric
// types are goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	queries *prometheus.CounterVec
	fetches *prometheus.CounterVec
	sizeEnt prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Fresh data served without fetching",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Stale or absent data requiring a fetch",
			ConstLabels: constLabels,
		}),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "entries_total",
				Help:        "Entry lifecycle events",
				ConstLabels: constLabels,
			},
			[]string{"event"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "fetches_total",
				Help:        "Fetch terminal outcomes",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.queries, a.fetches, a.sizeEnt)
	return a
}

// Hit increments the freshness hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the freshness miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// QueryAdded counts a new resident entry.
func (a *Adapter) QueryAdded() { a.queries.WithLabelValues("added").Inc() }

// QueryRemoved counts a removed entry.
func (a *Adapter) QueryRemoved() { a.queries.WithLabelValues("removed").Inc() }

// Size updates the resident entry gauge.
func (a *Adapter) Size(entries int) { a.sizeEnt.Set(float64(entries)) }

// FetchStarted counts a started fetch operation.
func (a *Adapter) FetchStarted() { a.fetches.WithLabelValues("started").Inc() }

// FetchSucceeded counts a fetch that resolved with data.
func (a *Adapter) FetchSucceeded() { a.fetches.WithLabelValues("success").Inc() }

// FetchFailed counts a fetch that exhausted its retries.
func (a *Adapter) FetchFailed() { a.fetches.WithLabelValues("error").Inc() }

// FetchCancelled counts a cancelled fetch.
func (a *Adapter) FetchCancelled() { a.fetches.WithLabelValues("cancelled").Inc() }

// Compile-time check: ensure Adapter implements query.Metrics.
var _ query.Metrics = (*Adapter)(nil)
