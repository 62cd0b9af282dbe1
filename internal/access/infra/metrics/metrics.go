package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/services/authority"
)

const namespace = "gracegate"

// Metrics owns a private registry and implements authority.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	navigations   *prometheus.CounterVec
	enforcements  *prometheus.CounterVec
	grantRequests *prometheus.CounterVec
	verifications *prometheus.CounterVec
	swept         prometheus.Counter

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	rateLimitHits prometheus.Counter
	connections   *prometheus.GaugeVec
}

var _ authority.Recorder = (*Metrics)(nil)

// New creates Metrics with every family registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigations_total",
			Help:      "Navigations handled, by resulting state.",
		}, []string{"state"}),

		enforcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enforcements_total",
			Help:      "Enforcement instructions by mode and terminal delivery state.",
		}, []string{"mode", "state"}),

		grantRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_requests_total",
			Help:      "Grace period requests by outcome.",
		}, []string{"outcome"}),

		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_verifications_total",
			Help:      "Key verifications by result.",
		}, []string{"result"}),

		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_swept_total",
			Help:      "Expired grants removed by the sweeper.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route, method and status.",
		}, []string{"route", "method", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "API requests rejected by the per-IP limiter.",
		}),

		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enforcer_connections",
			Help:      "Open enforcer hub connections by role.",
		}, []string{"role"}),
	}

	reg.MustRegister(
		m.navigations,
		m.enforcements,
		m.grantRequests,
		m.verifications,
		m.swept,
		m.httpRequests,
		m.httpDuration,
		m.rateLimitHits,
		m.connections,
	)
	return m
}

// Registry exposes the private registry, mainly for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Navigation(s domain.NavState) {
	m.navigations.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) Delivery(mode domain.EnforceMode, s authority.DeliveryState) {
	m.enforcements.WithLabelValues(mode.String(), s.String()).Inc()
}

func (m *Metrics) GrantRequest(outcome string) {
	m.grantRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) KeyVerification(ok bool) {
	result := "invalid"
	if ok {
		result = "valid"
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Swept(n int) {
	if n > 0 {
		m.swept.Add(float64(n))
	}
}

// ObserveHTTP records one finished API request. route is the chi route
// pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RateLimited counts one rejected API request.
func (m *Metrics) RateLimited() {
	m.rateLimitHits.Inc()
}

// ConnectionOpened and ConnectionClosed track hub connections by role
// ("tab" or "bridge").
func (m *Metrics) ConnectionOpened(role string) { m.connections.WithLabelValues(role).Inc() }
func (m *Metrics) ConnectionClosed(role string) { m.connections.WithLabelValues(role).Dec() }
