// Package metrics exposes Prometheus instrumentation for HTTP traffic and for
// paste lifecycle events.
//
// HTTP collectors are labelled by method, the chi route pattern (for example
// /api/pastes/{id}) and status code, so label cardinality stays bounded. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ttlpaste"

// Metrics holds the registered collectors.
type Metrics struct {
	httpReqs     *prometheus.CounterVec
	httpLat      *prometheus.HistogramVec
	httpInflight prometheus.Gauge

	created  prometheus.Counter
	consumed prometheus.Counter
	notFound prometheus.Counter
	purged   prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpReqs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpLat: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_inflight",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pastes_created_total",
			Help:      "Pastes successfully created.",
		}),
		consumed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pastes_consumed_total",
			Help:      "Successful paste retrievals, each of which used one view.",
		}),
		notFound: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pastes_not_found_total",
			Help:      "Retrievals rejected because the paste was missing, expired or exhausted.",
		}),
		purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pastes_purged_total",
			Help:      "Pastes physically removed by the janitor.",
		}),
	}
}

func (m *Metrics) PasteCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *Metrics) PasteConsumed() {
	if m != nil {
		m.consumed.Inc()
	}
}

func (m *Metrics) PasteNotFound() {
	if m != nil {
		m.notFound.Inc()
	}
}

func (m *Metrics) PastesPurged(n int) {
	if m != nil && n > 0 {
		m.purged.Add(float64(n))
	}
}

// Middleware instruments every request passing through a chi router.
// Requests that matched no route are labelled "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInflight.Inc()
		defer m.httpInflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpReqs.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpLat.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
