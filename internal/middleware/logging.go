// Package middleware provides Echo middleware for logging, metrics, security
// headers and the administrative path guard.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"registry-router/internal/service"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// The registry field is empty for requests answered before resolution.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			status := responseStatus(c, err)
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelWarn
			}
			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"host", req.Host,
				"path", req.URL.EscapedPath(),
				"status", status,
				"registry", res.Header().Get(service.HeaderRegistry),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
