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
			Name: "duochat_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duochat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	roomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duochat_rooms_active",
			Help: "Number of rooms currently held in memory.",
		},
	)
	roomsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duochat_rooms_created_total",
			Help: "Total number of rooms created.",
		},
	)
	roomsDestroyedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duochat_rooms_destroyed_total",
			Help: "Total number of rooms destroyed, by trigger.",
		},
		[]string{"trigger"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duochat_messages_total",
			Help: "Total number of messages appended to room histories.",
		},
		[]string{"type"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duochat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duochat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	releaseFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duochat_release_failures_total",
			Help: "Total number of attached resources that failed to release on teardown.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		roomsActive,
		roomsCreatedTotal,
		roomsDestroyedTotal,
		messagesTotal,
		wsActiveConnections,
		wsEventsTotal,
		releaseFailuresTotal,
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

func IncRoomCreated() {
	roomsCreatedTotal.Inc()
}

func SetRoomsActive(n int) {
	roomsActive.Set(float64(n))
}

func IncRoomDestroyed(trigger string) {
	roomsDestroyedTotal.WithLabelValues(trigger).Inc()
}

func IncMessage(msgType string) {
	messagesTotal.WithLabelValues(msgType).Inc()
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncReleaseFailure() {
	releaseFailuresTotal.Inc()
}
