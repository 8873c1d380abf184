package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"registry-router/internal/metrics"
)

// responseStatus resolves the status the client will see. When a handler
// returns an error the response hasn't been written yet; Echo's central
// error handler will do that later, answering *echo.HTTPError with its code
// and anything else with 500.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request, labeled by the kind of path rather than the path
// itself so package names never become label values.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			status := strconv.Itoa(responseStatus(c, err))
			method := metrics.NormalizeMethod(c.Request().Method)
			kind := metrics.NormalizePath(c.Request().URL.Path)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, kind).Inc()
			m.RequestDuration.WithLabelValues(method, status, kind).Observe(duration)

			return err
		}
	}
}
