package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/manojgurugula/Chatbot-Backend/internal/routing"
)

type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RateLimited      *prometheus.CounterVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamRetries  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_requests_total",
				Help: "Total HTTP requests processed by the relay",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatrelay_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_rate_limited_total",
				Help: "Total requests rejected due to rate limiting",
			},
			[]string{"route"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_upstream_requests_total",
				Help: "Upstream calls by provider, endpoint and outcome (status code or error)",
			},
			[]string{"provider", "endpoint", "outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatrelay_upstream_duration_seconds",
				Help:    "Upstream call duration in seconds, retries included",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"provider", "endpoint"},
		),
		UpstreamRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatrelay_upstream_retries_total",
				Help: "Upstream retry attempts after transport failures",
			},
			[]string{"provider", "endpoint"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RateLimited,
		m.UpstreamRequests, m.UpstreamDuration, m.UpstreamRetries,
	)
	return m
}

// Middleware records per-request metrics. It has to run inside the router
// so the matched route pattern is known once the handler returns.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snoop := httpsnoop.CaptureMetrics(next, w, r)

		route := routing.RoutePattern(r)
		m.RequestDuration.WithLabelValues(route, r.Method).Observe(snoop.Duration.Seconds())
		m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(snoop.Code)).Inc()
	})
}

// RateLimitedOn counts a limiter denial for the request's route.
func (m *Metrics) RateLimitedOn(r *http.Request) {
	m.RateLimited.WithLabelValues(routing.RoutePattern(r)).Inc()
}

func (m *Metrics) ObserveUpstream(provider, endpoint, outcome string, d time.Duration) {
	m.UpstreamRequests.WithLabelValues(provider, endpoint, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(provider, endpoint).Observe(d.Seconds())
}

func (m *Metrics) ObserveUpstreamRetry(provider, endpoint string) {
	m.UpstreamRetries.WithLabelValues(provider, endpoint).Inc()
}
