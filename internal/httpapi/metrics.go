package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lightforgemedia/go-mdlive/pkg/refresh"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdlive",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mdlive",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	refreshClients = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "mdlive",
			Subsystem: "refresh",
			Name:      "connected_clients",
			Help:      "Currently connected refresh channel sockets",
		},
		func() float64 {
			clientCountMu.RLock()
			defer clientCountMu.RUnlock()
			if clientCount == nil {
				return 0
			}
			return float64(clientCount())
		},
	)

	clientCountMu sync.RWMutex
	clientCount   func() int

	refreshBroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mdlive",
			Subsystem: "refresh",
			Name:      "broadcasts_total",
			Help:      "Total refresh broadcasts sent to browsers",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, refreshClients, refreshBroadcastsTotal)
}

// SetClientCounter wires the connected-clients gauge to a live source,
// typically the refresh hub's ClientCount. The gauge is read at scrape
// time so connects and disconnects are reflected immediately.
func SetClientCounter(f func() int) {
	clientCountMu.Lock()
	clientCount = f
	clientCountMu.Unlock()
}

// IncRefreshBroadcasts counts one refresh broadcast.
func IncRefreshBroadcasts() {
	refreshBroadcastsTotal.Inc()
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counts and latencies.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade hijacks the connection; wrapping its
		// ResponseWriter would break the hijacker interface.
		if r.URL.Path == refresh.DefaultPath {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		httpRequestsTotal.WithLabelValues(r.URL.Path, r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(r.URL.Path, r.Method, status).Observe(time.Since(start).Seconds())
	})
}
