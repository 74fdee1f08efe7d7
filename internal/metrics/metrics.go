// Package metrics exposes Prometheus counters for the sync core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bartermate"

// Feed fetch sources.
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
)

// Metrics holds the registry and every collector.
type Metrics struct {
	Registry *prometheus.Registry

	reconciles          *prometheus.CounterVec
	feedFetches         *prometheus.CounterVec
	realtimeMerges      prometheus.Counter
	ownerLookupFailures prometheus.Counter
	offline             prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Reconcile attempts by outcome.",
		}, []string{"outcome"}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_total",
			Help:      "Feed fetches by the source that answered.",
		}, []string{"source"}),
		realtimeMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_merges_total",
			Help:      "Listings merged from the realtime feed.",
		}),
		ownerLookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "owner_lookup_failures_total",
			Help:      "Realtime merges that proceeded without an owner summary.",
		}),
		offline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline",
			Help:      "1 while the network monitor reports offline.",
		}),
	}
	m.Registry.MustRegister(
		m.reconciles,
		m.feedFetches,
		m.realtimeMerges,
		m.ownerLookupFailures,
		m.offline,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Reconcile counts one reconcile by outcome.
func (m *Metrics) Reconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(outcome).Inc()
}

// FeedFetch counts one feed fetch answered by source.
func (m *Metrics) FeedFetch(source string) {
	if m == nil {
		return
	}
	m.feedFetches.WithLabelValues(source).Inc()
}

// RealtimeMerge counts a merged listing.
func (m *Metrics) RealtimeMerge(ownerResolved bool) {
	if m == nil {
		return
	}
	m.realtimeMerges.Inc()
	if !ownerResolved {
		m.ownerLookupFailures.Inc()
	}
}

// SetOffline records the connectivity state.
func (m *Metrics) SetOffline(offline bool) {
	if m == nil {
		return
	}
	if offline {
		m.offline.Set(1)
		return
	}
	m.offline.Set(0)
}

// WatchDroppedNotifications exports dropped as the count of UI
// notifications discarded on a full queue.
func (m *Metrics) WatchDroppedNotifications(dropped func() int64) {
	if m == nil {
		return
	}
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "UI notifications discarded because the SSE queue was full.",
	}, func() float64 { return float64(dropped()) })
	if err := m.Registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
