package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rosterd"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "active",
			Help:      "Client connections currently registered.",
		},
	)
	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "accepted_total",
			Help:      "Client connections accepted.",
		},
	)
	connectionsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "evicted_total",
			Help:      "Client connections removed, by reason.",
		},
		[]string{"reason"},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "handshakes_total",
			Help:      "Handshake attempts, by verdict.",
		},
		[]string{"result"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "DB-access requests answered, by response status.",
		},
		[]string{"status"},
	)
	options = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "options_total",
			Help:      "Request options applied, by kind and outcome.",
		},
		[]string{"kind", "found"},
	)
	rejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "rejected_total",
			Help:      "Frames answered with invalid-request.",
		},
	)
	storeRewrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rewrites_total",
			Help:      "Full rewrites of the database file.",
		},
	)
	storeRewriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rewrite_duration_seconds",
			Help:      "Duration of requests that rewrote the database file.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
	storeEmployees = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "employees",
			Help:      "Employees currently in the roster.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			connectionsActive, connectionsAccepted, connectionsEvicted,
			handshakes, requests, options, rejections,
			storeRewrites, storeRewriteDuration, storeEmployees,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordAccept(active int) {
	RegisterMetrics()
	connectionsAccepted.Inc()
	connectionsActive.Set(float64(active))
}

// RecordEvict counts a removed connection; reason is "closed", "transport",
// "oversize" or "shutdown".
func RecordEvict(reason string, active int) {
	RegisterMetrics()
	connectionsEvicted.WithLabelValues(reason).Inc()
	connectionsActive.Set(float64(active))
}

func RecordHandshake(result string) {
	RegisterMetrics()
	handshakes.WithLabelValues(result).Inc()
}

func RecordRequest(status string) {
	RegisterMetrics()
	requests.WithLabelValues(status).Inc()
}

func RecordOption(kind string, found bool) {
	RegisterMetrics()
	options.WithLabelValues(kind, strconv.FormatBool(found)).Inc()
}

func RecordRejected() {
	RegisterMetrics()
	rejections.Inc()
}

func RecordRewrite(employees int, duration time.Duration) {
	RegisterMetrics()
	storeRewrites.Inc()
	storeRewriteDuration.Observe(duration.Seconds())
	storeEmployees.Set(float64(employees))
}

func SetEmployees(n int) {
	RegisterMetrics()
	storeEmployees.Set(float64(n))
}
