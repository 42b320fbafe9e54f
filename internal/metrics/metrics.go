package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "nexevent_http_requests_total", Help: "Total HTTP requests by method, route and status"},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "nexevent_http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)
	UsersRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "nexevent_users_registered_total", Help: "Total registered users by role"},
		[]string{"role"},
	)
	LoginFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "nexevent_login_failures_total", Help: "Total rejected login attempts"},
	)
	EventsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "nexevent_events_created_total", Help: "Total events created"},
	)
	EventsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "nexevent_events_deleted_total", Help: "Total events deleted"},
	)
	RSVPToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "nexevent_rsvp_toggles_total", Help: "Total interest toggles by action"},
		[]string{"action"},
	)
	BookingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "nexevent_bookings_created_total", Help: "Total bookings created"},
	)
	BookingsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "nexevent_bookings_cancelled_total", Help: "Total bookings cancelled"},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequests,
			HTTPDuration,
			UsersRegistered,
			LoginFailures,
			EventsCreated,
			EventsDeleted,
			RSVPToggles,
			BookingsCreated,
			BookingsCancelled,
		)
	})
}

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
