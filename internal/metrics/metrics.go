package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fbsender_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fbsender_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	uidsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fbsender_uids_imported_total",
			Help: "Total import lines by outcome",
		},
		[]string{"outcome"},
	)

	sendsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fbsender_sends_processed_total",
			Help: "Total committed send attempts by resulting status and error code",
		},
		[]string{"status", "error_code"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fbsender_send_duration_seconds",
			Help:    "Wall time of one worker dispatch",
			Buckets: []float64{.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	quotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fbsender_quota_remaining",
			Help: "Sends remaining before the daily limit pauses the engine",
		},
	)

	engineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fbsender_engine_state",
			Help: "Current engine state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fbsender_idempotency_hits_total",
			Help: "Import requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fbsender_rate_limit_rejections_total",
			Help: "Requests rejected by the dashboard rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fbsender_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fbsender_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

var engineStates = []string{"IDLE", "RUNNING", "PAUSED", "STOPPED", "LOGIN_ONLY"}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordImport records the outcome of import lines ("added", "duplicate",
// "invalid")
func RecordImport(outcome string, count int) {
	uidsImported.WithLabelValues(outcome).Add(float64(count))
}

// RecordSend records one committed send attempt
func RecordSend(status, errorCode string) {
	if errorCode == "" {
		errorCode = "none"
	}
	sendsProcessed.WithLabelValues(status, errorCode).Inc()
}

// ObserveSendDuration records the wall time of one worker dispatch
func ObserveSendDuration(d time.Duration) {
	sendDuration.Observe(d.Seconds())
}

// SetQuotaRemaining sets the remaining daily quota gauge
func SetQuotaRemaining(remaining int) {
	quotaRemaining.Set(float64(remaining))
}

// SetEngineState marks the given state active and all others inactive
func SetEngineState(state string) {
	for _, s := range engineStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		engineState.WithLabelValues(s).Set(v)
	}
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
