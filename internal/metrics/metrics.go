// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kataster_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "status"})
	HTTPDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kataster_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"route"})
	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kataster_cache_lookups_total",
		Help: "Cache gate lookups by kind and result (hit, miss)",
	}, []string{"kind", "result"})
	CacheStoreErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kataster_cache_store_errors_total",
		Help: "Cache backend read or write failures",
	})
	ResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kataster_resolutions_total",
		Help: "Resolver outcomes by kind (full, partial, not_found, invalid, upstream_error)",
	}, []string{"kind", "outcome"})
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kataster_upstream_requests_total",
		Help: "Outbound WFS/WMS requests by host and outcome (ok, rejected, transport_error)",
	}, []string{"host", "outcome"})
	UpstreamDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kataster_upstream_duration_ms",
		Help:    "Outbound WFS/WMS request duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"host"})
	OpenLayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kataster_engine_open_layers",
		Help: "Feature-layer handles currently open",
	})
	BreakerTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kataster_breaker_transitions_total",
		Help: "Circuit breaker state transitions by host and target state",
	}, []string{"host", "state"})
	VariantAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kataster_variant_attempts_total",
		Help: "Namespace variant attempts by layer and outcome (found, empty, transport_error)",
	}, []string{"layer", "outcome"})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurationMs)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(CacheStoreErrorsTotal)
	prometheus.MustRegister(ResolutionsTotal)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamDurationMs)
	prometheus.MustRegister(OpenLayers)
	prometheus.MustRegister(BreakerTransitionsTotal)
	prometheus.MustRegister(VariantAttemptsTotal)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }
