package observability

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the JSON snapshot.
func Handler(metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := metrics.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}

// NewMux exposes /metrics in Prometheus text format and /debug/metrics as JSON.
// A nil gatherer leaves /metrics unregistered.
func NewMux(metrics *Metrics, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("GET /debug/metrics", Handler(metrics))
	return mux
}

// Middleware wraps next in a span named route. Responses with status >= 500
// count as errors.
func Middleware(metrics *Metrics, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		span := metrics.Start(route)
		next.ServeHTTP(rec, r)
		var err error
		if rec.status >= http.StatusInternalServerError {
			err = errServerStatus
		}
		span.End(err)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var errServerStatus = errors.New("server error status")
