package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/bulkq/internal/model"
)

const (
	unmatched = "unmatched"
	noKind    = "none"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkq_http_requests_total",
			Help: "HTTP requests by route, entry kind and status code.",
		},
		[]string{"method", "route", "kind", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulkq_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route and entry kind.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"method", "route", "kind"},
	)

	entriesQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkq_api_entries_queued_total",
			Help: "Entries accepted through the API by scope.",
		},
		[]string{"kind", "region", "account"},
	)

	manualPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bulkq_api_manual_polls_total",
			Help: "Poll cycles triggered through POST /v1/poll.",
		},
	)

	eventStreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bulkq_event_stream_clients",
			Help: "Number of connected event stream clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		apiRequestsTotal,
		apiRequestDuration,
		entriesQueuedTotal,
		manualPollsTotal,
		eventStreamClients,
	)
}

// metricsMiddleware records request count and duration, labelled by chi route
// pattern and the entry kind named in the URL.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route, kind := routeLabels(r)
		apiRequestsTotal.WithLabelValues(r.Method, route, kind, strconv.Itoa(status)).Inc()
		apiRequestDuration.WithLabelValues(r.Method, route, kind).Observe(time.Since(start).Seconds())
	})
}

// routeLabels returns the matched route pattern and entry kind. Unknown kinds
// collapse to "none" so a client cannot grow the label set.
func routeLabels(r *http.Request) (route, kind string) {
	route, kind = unmatched, noKind
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return route, kind
	}
	if p := rctx.RoutePattern(); p != "" {
		route = p
	}
	if k := model.Kind(rctx.URLParam("kind")); k.Valid() {
		kind = string(k)
	}
	if k := model.Kind(r.URL.Query().Get("kind")); kind == noKind && k.Valid() {
		kind = string(k)
	}
	return route, kind
}

func recordQueued(s model.Scope) {
	entriesQueuedTotal.WithLabelValues(string(s.Kind), s.Region, s.AccountID).Inc()
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

