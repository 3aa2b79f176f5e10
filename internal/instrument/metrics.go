package instrument

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a prometheus-backed Instrumenter.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.HistogramVec
	counts     *prometheus.CounterVec
	attributes *prometheus.CounterVec
	requests   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crudkit",
			Name:      "operation_duration_seconds",
			Help:      "Duration of query, sync and service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "action", "entity", "status"}),
		counts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crudkit",
			Name:      "count_queries_total",
			Help:      "Pagination count queries by strategy (direct or derived).",
		}, []string{"entity", "strategy"}),
		attributes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crudkit",
			Name:      "attributes_synced_total",
			Help:      "Dynamic attribute values written by attribute synchronization.",
		}, []string{"entity"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crudkit",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(m.operations, m.counts, m.attributes, m.requests)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collected metrics in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) StartSpan(ctx context.Context, component, action string) (context.Context, Span) {
	return ctx, &metricSpan{
		metrics:   m,
		component: component,
		action:    action,
		status:    "ok",
		start:     time.Now(),
	}
}

type metricSpan struct {
	mu        sync.Mutex
	metrics   *Metrics
	component string
	action    string
	entity    string
	status    string
	strategy  string
	synced    int
	start     time.Time
	ended     bool
}

func (s *metricSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	s.metrics.operations.
		WithLabelValues(s.component, s.action, s.entity, s.status).
		Observe(time.Since(s.start).Seconds())
	if s.strategy != "" {
		s.metrics.counts.WithLabelValues(s.entity, s.strategy).Inc()
	}
	if s.synced > 0 {
		s.metrics.attributes.WithLabelValues(s.entity).Add(float64(s.synced))
	}
}

func (s *metricSpan) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *metricSpan) SetEntity(entity string) {
	s.mu.Lock()
	s.entity = entity
	s.mu.Unlock()
}

func (s *metricSpan) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "count_strategy":
		if v, ok := value.(string); ok {
			s.strategy = v
		}
	case "attributes":
		if v, ok := value.(int); ok {
			s.synced = v
		}
	}
}
