package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Readiness state of the service (1 ready, 0 not ready).",
	})

	timesheetTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timesheet_transitions_total",
			Help: "Timesheet status transitions by event and outcome.",
		},
		[]string{"event", "outcome"},
	)
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge, timesheetTransitions)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the current readiness state.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveTransition counts a timesheet transition attempt.
// outcome is "ok" or "refused".
func ObserveTransition(event string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "refused"
	}
	timesheetTransitions.WithLabelValues(event, outcome).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded. Only known parameterized routes are rewritten.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	// Literal subresources under /v1/timesheets that must not be mistaken
	// for identifiers.
	if len(parts) == 3 && parts[0] == "v1" && parts[1] == "timesheets" {
		switch parts[2] {
		case "scan", "scan-events":
			return "/" + strings.Join(parts, "/")
		}
	}
	rewrite := func(prefix []string, suffix []string) (string, bool) {
		n := len(prefix) + 1 + len(suffix)
		if len(parts) != n {
			return "", false
		}
		for i, p := range prefix {
			if parts[i] != p {
				return "", false
			}
		}
		for i, s := range suffix {
			if parts[len(prefix)+1+i] != s {
				return "", false
			}
		}
		segs := append(append([]string{}, prefix...), ":id")
		segs = append(segs, suffix...)
		return "/" + strings.Join(segs, "/"), true
	}
	candidates := [][2][]string{
		{{"v1", "timesheets"}, nil},
		{{"v1", "timesheets"}, {"approve"}},
		{{"v1", "timesheets"}, {"reject"}},
		{{"v1", "timesheets"}, {"invalidate"}},
		{{"v1", "timesheets"}, {"qr-code"}},
		{{"v1", "timesheets"}, {"invoice-status"}},
		{{"v1", "organizations"}, nil},
		{{"v1", "organizations"}, {"users"}},
		{{"v1", "organizations"}, {"roles"}},
		{{"v1", "organizations"}, {"departments"}},
		{{"v1", "users"}, nil},
		{{"v1", "users"}, {"roles"}},
		{{"v1", "users"}, {"permissions"}},
		{{"v1", "roles"}, nil},
		{{"v1", "roles"}, {"permissions"}},
	}
	for _, c := range candidates {
		if p, ok := rewrite(c[0], c[1]); ok {
			return p
		}
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the instrumented chain.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
