// Package observability wires Prometheus metrics and OpenTelemetry
// tracing for the gateway process.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRegistry creates a Prometheus registry with the standard Go
// runtime and process collectors attached.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// MustNewCounter creates and registers a CounterVec, panicking on a
// duplicate registration (a startup-time programming error).
func MustNewCounter(reg *prometheus.Registry, name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	reg.MustRegister(c)
	return c
}

// MustNewHistogram creates and registers a HistogramVec. A nil buckets
// slice uses prometheus.DefBuckets.
func MustNewHistogram(reg *prometheus.Registry, name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	reg.MustRegister(h)
	return h
}

// MustNewGauge creates and registers a GaugeVec.
func MustNewGauge(reg *prometheus.Registry, name, help string, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	reg.MustRegister(g)
	return g
}

// GatewayMetrics is the fixed set of metrics every component records
// into. Constructed once at startup and passed by reference.
type GatewayMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec
	BreakerTrips    *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	ProviderHealth  *prometheus.GaugeVec
	EventsPublished *prometheus.CounterVec
}

// SetBreakerState and RecordBreakerTrip satisfy internal/breaker's
// MetricsSink, letting the registry export circuit state without that
// package importing Prometheus directly.
func (m *GatewayMetrics) SetBreakerState(provider string, state float64) {
	m.BreakerState.WithLabelValues(provider).Set(state)
}

func (m *GatewayMetrics) RecordBreakerTrip(provider, from, to string) {
	m.BreakerTrips.WithLabelValues(provider, from, to).Inc()
}

// SetProviderHealth satisfies internal/balancer's MetricsSink.
func (m *GatewayMetrics) SetProviderHealth(provider string, score float64) {
	m.ProviderHealth.WithLabelValues(provider).Set(score)
}

// RecordCacheHit and RecordCacheMiss satisfy internal/cache's
// MetricsSink.
func (m *GatewayMetrics) RecordCacheHit(tier, namespace string) {
	m.CacheHits.WithLabelValues(tier, namespace).Inc()
}

func (m *GatewayMetrics) RecordCacheMiss(tier, namespace string) {
	m.CacheMisses.WithLabelValues(tier, namespace).Inc()
}

// RecordEvent exports a published event's type, wired onto the event
// bus by cmd/gatewayd through a thin subscriber closure at startup.
func (m *GatewayMetrics) RecordEvent(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// NewGatewayMetrics registers the full gateway metric set against reg.
func NewGatewayMetrics(reg *prometheus.Registry) *GatewayMetrics {
	return &GatewayMetrics{
		Requests:        MustNewCounter(reg, "gateway_requests_total", "Total requests handled by the gateway", []string{"provider", "method", "status"}),
		RequestDuration: MustNewHistogram(reg, "gateway_request_duration_seconds", "Gateway request latency", []string{"provider", "method"}, nil),
		BreakerState:    MustNewGauge(reg, "gateway_breaker_state", "Circuit breaker state (0=closed,1=open,2=half_open)", []string{"provider"}),
		BreakerTrips:    MustNewCounter(reg, "gateway_breaker_trips_total", "Circuit breaker state transitions", []string{"provider", "from", "to"}),
		CacheHits:       MustNewCounter(reg, "gateway_cache_hits_total", "Cache hits by tier", []string{"tier", "namespace"}),
		CacheMisses:     MustNewCounter(reg, "gateway_cache_misses_total", "Cache misses by tier", []string{"tier", "namespace"}),
		ProviderHealth:  MustNewGauge(reg, "gateway_provider_health_score", "Provider health score 0-100", []string{"provider"}),
		EventsPublished: MustNewCounter(reg, "gateway_events_published_total", "Events published on the event bus", []string{"event_type"}),
	}
}
