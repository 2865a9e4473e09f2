// Package metrics exposes Prometheus metrics for the gateway. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "popcorngate"

// Collector owns a private registry and the gateway metrics.
type Collector struct {
	registry *prometheus.Registry

	logins          *prometheus.CounterVec
	sessions        *prometheus.GaugeVec
	resolves        *prometheus.CounterVec
	catchups        *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	catchupEventErr prometheus.Counter
}

// New creates and registers all metrics.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})

	c.sessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_sessions",
		Help:      "Currently registered subscriber sessions by transport.",
	}, []string{"transport"})

	c.resolves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolves_total",
		Help:      "Stream location resolutions by outcome.",
	}, []string{"outcome"})

	c.catchups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catchup_requests_total",
		Help:      "Catchup requests by whether a new recording was created.",
	}, []string{"created"})

	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status.",
	}, []string{"method", "status"})

	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	c.catchupEventErr = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catchup_event_errors_total",
		Help:      "Catchup events that could not be queued.",
	})

	c.registry.MustRegister(
		c.logins, c.sessions, c.resolves, c.catchups,
		c.httpRequests, c.httpDuration, c.catchupEventErr,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Login(result string) {
	if c == nil {
		return
	}
	c.logins.WithLabelValues(result).Inc()
}

func (c *Collector) SessionRegistered(transport string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(transport).Inc()
}

func (c *Collector) SessionUnregistered(transport string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(transport).Dec()
}

func (c *Collector) Resolve(outcome string) {
	if c == nil {
		return
	}
	c.resolves.WithLabelValues(outcome).Inc()
}

func (c *Collector) Catchup(created bool) {
	if c == nil {
		return
	}
	c.catchups.WithLabelValues(strconv.FormatBool(created)).Inc()
}

func (c *Collector) CatchupEventFailed() {
	if c == nil {
		return
	}
	c.catchupEventErr.Inc()
}

func (c *Collector) HTTPRequest(method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}
