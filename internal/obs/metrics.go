package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maintenix.io/internal/policy"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Доменные метрики
var (
	PDPDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdp_decisions_total",
			Help: "Authorization decisions by outcome and reason.",
		},
		[]string{"allow", "reason"},
	)

	GatewayRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rejections_total",
			Help: "Requests rejected by the gateway, labelled by pipeline stage.",
		},
		[]string{"stage"},
	)

	SessionRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_rotations_total",
			Help: "Refresh token rotations by outcome.",
		},
		[]string{"outcome"},
	)

	SchedulerJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_total",
			Help: "Scheduler jobs dispatched by pass kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	AuditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_records_dropped_total",
		Help: "Audit records dropped because the write queue was full or the store failed.",
	})
)

var initOnce sync.Once

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			PDPDecisions, GatewayRejections, SessionRotations, SchedulerJobs, AuditDropped,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// CanonicalPath maps a raw request path onto a low-cardinality label.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	return policy.NormalizePath(path)
}

// Instrument wraps next with RPS, latency and in-flight tracking.
func Instrument(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(service, method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(service, method, path, status).Inc()
	})
}

// statusWriter запоминает код ответа для метрик.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
