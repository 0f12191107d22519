// Package metrics exposes service counters in the Prometheus format. A
// Registry satisfies the metrics hooks of the cache, rotator, ratelimit,
// drive and archive packages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shahidsiddiqui786/photoselect/cache"
)

const namespace = "photoselect"

type Registry struct {
	reg *prometheus.Registry

	cacheEvents     *prometheus.CounterVec
	keySelections   *prometheus.CounterVec
	keyThrottles    prometheus.Counter
	limiterDecision *prometheus.CounterVec
	upstream        *prometheus.CounterVec
	archiveObjects  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Cache lookups and removals by cache and event.",
		}, []string{"cache", "event"}),
		keySelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_key_selections_total",
			Help:      "Upstream API key selections; mode is normal or degraded.",
		}, []string{"mode"}),
		keyThrottles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_key_rate_limited_total",
			Help:      "Upstream API keys put into cooldown.",
		}),
		limiterDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by limiter and outcome.",
		}, []string{"limiter", "outcome"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream API requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		archiveObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_objects_total",
			Help:      "Archive object fetches by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Served HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}

	r.reg.MustRegister(
		r.cacheEvents,
		r.keySelections,
		r.keyThrottles,
		r.limiterDecision,
		r.upstream,
		r.archiveObjects,
		r.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the exposition format for this registry only.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Cache returns the hook set for the named cache.
func (r *Registry) Cache(name string) cache.Metrics {
	return cacheMetrics{name: name, events: r.cacheEvents}
}

func (r *Registry) KeySelected(degraded bool) {
	mode := "normal"
	if degraded {
		mode = "degraded"
	}
	r.keySelections.WithLabelValues(mode).Inc()
}

func (r *Registry) KeyRateLimited() { r.keyThrottles.Inc() }

func (r *Registry) Decision(limiter, outcome string) {
	r.limiterDecision.WithLabelValues(limiter, outcome).Inc()
}

func (r *Registry) Request(op, outcome string) {
	r.upstream.WithLabelValues(op, outcome).Inc()
}

func (r *Registry) Object(outcome string) {
	r.archiveObjects.WithLabelValues(outcome).Inc()
}

func (r *Registry) HTTPRequest(route, status string) {
	r.httpRequests.WithLabelValues(route, status).Inc()
}

type cacheMetrics struct {
	name   string
	events *prometheus.CounterVec
}

func (m cacheMetrics) Hit()      { m.events.WithLabelValues(m.name, "hit").Inc() }
func (m cacheMetrics) Miss()     { m.events.WithLabelValues(m.name, "miss").Inc() }
func (m cacheMetrics) Eviction() { m.events.WithLabelValues(m.name, "eviction").Inc() }
func (m cacheMetrics) Expire()   { m.events.WithLabelValues(m.name, "expire").Inc() }
