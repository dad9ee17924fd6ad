package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunehub_rate_limit_decisions_total",
			Help: "Rate limiter decisions by resource and outcome (allowed, rejected, fail_open, skipped).",
		},
		[]string{"resource", "outcome"},
	)

	AuthClientRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunehub_authclient_requests_total",
			Help: "Calls from the gateway into the identity service.",
		},
		[]string{"op", "outcome"},
	)

	AuthClientDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunehub_authclient_request_duration_seconds",
			Help:    "Latency of calls into the identity service.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"},
	)

	AdmissionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunehub_admission_failures_total",
			Help: "Gateway admission rejections and optional-auth fallbacks by reason.",
		},
		[]string{"mode", "reason"},
	)

	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunehub_logins_total",
			Help: "Identity service login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)
)

var registerOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RateLimitDecisions,
			AuthClientRequests,
			AuthClientDuration,
			AdmissionFailures,
			Logins,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records count and latency per route template.
func Middleware(service string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			httpRequestDuration.WithLabelValues(service, method, route).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(service, method, route, strconv.Itoa(status)).Inc()
			return err
		}
	}
}
