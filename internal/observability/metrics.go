// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Fetch metrics
	FetchAttempts  *prometheus.CounterVec
	FetchFallbacks *prometheus.CounterVec
	FetchExhausted *prometheus.CounterVec
	FetchLatency   *prometheus.HistogramVec
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec

	// Classification metrics
	TicksClassified  prometheus.Counter
	TicksMalformed   prometheus.Counter
	LargeOrdersFound *prometheus.CounterVec
	ClassifyLatency  prometheus.Histogram

	// Phone pool metrics
	PhonesAvailable prometheus.Gauge
	PhonesReserved  prometheus.Gauge
	PhonesExhausted prometheus.Gauge

	// Proxy metrics
	ProxiesHealthy prometheus.Gauge
	ProxiesLeased  prometheus.Gauge
	ProxyFailures  prometheus.Counter

	// Session metrics
	SessionsCreated  prometheus.Counter
	SessionsExpired  prometheus.Counter
	SessionsRevoked  prometheus.Counter
	SessionsActive   prometheus.Gauge
	LoginAttempts    *prometheus.CounterVec
	RegisterAttempts *prometheus.CounterVec

	// Captcha metrics
	CaptchaSolves *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulFetch prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "stock_order_flow"
	}

	return &Metrics{
		// Fetch metrics
		FetchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Total number of provider fetch attempts by provider, kind and status",
		}, []string{"provider", "kind", "status"}),
		FetchFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "fallbacks_total",
			Help:      "Total number of requests served by a non-primary provider",
		}, []string{"kind", "provider"}),
		FetchExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "exhausted_total",
			Help:      "Total number of requests where every provider failed",
		}, []string{"kind"}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "latency_seconds",
			Help:      "Provider fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "kind"}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "cache_hits_total",
			Help:      "Total number of requests served from cache",
		}, []string{"kind"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "cache_misses_total",
			Help:      "Total number of requests that missed the cache",
		}, []string{"kind"}),

		// Classification metrics
		TicksClassified: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "ticks_total",
			Help:      "Total number of ticks run through the classifier",
		}),
		TicksMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "ticks_malformed_total",
			Help:      "Total number of ticks excluded as malformed",
		}),
		LargeOrdersFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "large_orders_total",
			Help:      "Total number of large orders found by tier and side",
		}, []string{"tier", "side"}),
		ClassifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "latency_seconds",
			Help:      "Classification latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Phone pool metrics
		PhonesAvailable: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "phonepool",
			Name:      "available",
			Help:      "Current number of available phone numbers",
		}),
		PhonesReserved: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "phonepool",
			Name:      "reserved",
			Help:      "Current number of reserved phone numbers",
		}),
		PhonesExhausted: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "phonepool",
			Name:      "exhausted",
			Help:      "Current number of exhausted phone numbers",
		}),

		// Proxy metrics
		ProxiesHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "healthy",
			Help:      "Current number of proxies above the health floor",
		}),
		ProxiesLeased: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "leased",
			Help:      "Current number of leased proxies",
		}),
		ProxyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of failed requests reported against proxies",
		}),

		// Session metrics
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total number of sessions created",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Total number of sessions expired",
		}),
		SessionsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "revoked_total",
			Help:      "Total number of sessions revoked",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Current number of active sessions",
		}),
		LoginAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by status",
		}, []string{"status"}),
		RegisterAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "register_attempts_total",
			Help:      "Total number of registration attempts by status",
		}, []string{"status"}),

		// Captcha metrics
		CaptchaSolves: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "captcha",
			Name:      "solves_total",
			Help:      "Total number of captcha solve attempts by strategy and status",
		}, []string{"strategy", "status"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulFetch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_fetch_timestamp",
			Help:      "Unix timestamp of the last request served by any provider",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFetchAttempt records one provider attempt outcome.
func RecordFetchAttempt(provider, kind string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.FetchAttempts.WithLabelValues(provider, kind, status).Inc()
	DefaultMetrics.FetchLatency.WithLabelValues(provider, kind).Observe(seconds)
}

// RecordFallback records a request served by a non-primary provider.
func RecordFallback(kind, provider string) {
	DefaultMetrics.FetchFallbacks.WithLabelValues(kind, provider).Inc()
}

// RecordExhausted records a request where every provider failed.
func RecordExhausted(kind string) {
	DefaultMetrics.FetchExhausted.WithLabelValues(kind).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(kind string, hit bool) {
	if hit {
		DefaultMetrics.CacheHits.WithLabelValues(kind).Inc()
	} else {
		DefaultMetrics.CacheMisses.WithLabelValues(kind).Inc()
	}
}

// RecordClassification records one classifier run.
func RecordClassification(ticks, malformed int, seconds float64) {
	DefaultMetrics.TicksClassified.Add(float64(ticks))
	DefaultMetrics.TicksMalformed.Add(float64(malformed))
	DefaultMetrics.ClassifyLatency.Observe(seconds)
}

// RecordLargeOrder records one classified large order.
func RecordLargeOrder(tier, side string) {
	DefaultMetrics.LargeOrdersFound.WithLabelValues(tier, side).Inc()
}

// UpdatePhonePool updates the phone pool gauges.
func UpdatePhonePool(available, reserved, exhausted int) {
	DefaultMetrics.PhonesAvailable.Set(float64(available))
	DefaultMetrics.PhonesReserved.Set(float64(reserved))
	DefaultMetrics.PhonesExhausted.Set(float64(exhausted))
}

// UpdateProxies updates the proxy gauges.
func UpdateProxies(healthy, leased int) {
	DefaultMetrics.ProxiesHealthy.Set(float64(healthy))
	DefaultMetrics.ProxiesLeased.Set(float64(leased))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordCaptchaSolve records one captcha strategy outcome.
func RecordCaptchaSolve(strategy string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	DefaultMetrics.CaptchaSolves.WithLabelValues(strategy, status).Inc()
}

// RecordSessionEvent records a session lifecycle transition.
func RecordSessionEvent(event string) {
	switch event {
	case "created":
		DefaultMetrics.SessionsCreated.Inc()
	case "expired":
		DefaultMetrics.SessionsExpired.Inc()
	case "revoked":
		DefaultMetrics.SessionsRevoked.Inc()
	}
}

// UpdateActiveSessions updates the active session gauge.
func UpdateActiveSessions(n int) {
	DefaultMetrics.SessionsActive.Set(float64(n))
}
