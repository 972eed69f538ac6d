package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_http_requests_total",
			Help: "Total number of HTTP requests processed by the local gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "client_http_request_duration_seconds",
			Help:    "Gateway request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_sends_total",
			Help: "Total number of optimistic sends by message type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	reconcileEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_reconcile_events_total",
			Help: "Total number of realtime feed events by type and reconcile outcome.",
		},
		[]string{"event", "outcome"},
	)
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_uploads_total",
			Help: "Total number of attachment uploads by outcome.",
		},
		[]string{"outcome"},
	)
	uploadRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "client_upload_retries_total",
			Help: "Total number of upload chunk retries.",
		},
	)
	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "client_upload_bytes",
			Help:    "Size distribution of completed uploads in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "client_ws_active_connections",
			Help: "Number of active websocket connections by kind (feed or ui).",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_cache_lookups_total",
			Help: "Total number of local cache lookups by result.",
		},
		[]string{"result"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "client_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		sendsTotal,
		reconcileEventsTotal,
		uploadsTotal,
		uploadRetriesTotal,
		uploadBytes,
		wsActiveConnections,
		wsEventsTotal,
		cacheLookupsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncSend(msgType, outcome string) {
	sendsTotal.WithLabelValues(msgType, outcome).Inc()
}

func IncReconcile(event, outcome string) {
	reconcileEventsTotal.WithLabelValues(event, outcome).Inc()
}

func IncUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}

func IncUploadRetry() {
	uploadRetriesTotal.Inc()
}

func ObserveUploadBytes(n int64) {
	uploadBytes.Observe(float64(n))
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
