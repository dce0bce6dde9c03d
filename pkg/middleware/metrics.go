// Package middleware wraps the indexer's probe endpoints with Prometheus
// instrumentation and a response deadline.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
)

// Metrics returns middleware that records request count, latency and the
// in-flight gauge. path is the route pattern, so label cardinality stays
// bounded whatever URL was requested.
func Metrics(m *metrics.Metrics, path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// Wrap applies Timeout and then Metrics to every route.
func Wrap(routes map[string]http.Handler, m *metrics.Metrics, timeout time.Duration) map[string]http.Handler {
	out := make(map[string]http.Handler, len(routes))
	for path, h := range routes {
		out[path] = Metrics(m, path)(Timeout(timeout)(h))
	}
	return out
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}
