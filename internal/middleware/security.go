package middleware

import (
	"github.com/labstack/echo/v4"

	"registry-router/internal/client"
)

// SecurityHeaders returns an Echo middleware that adds security headers to
// responses and strips hop-by-hop headers, including those named in
// Connection, from incoming requests.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			client.RemoveHopByHop(c.Request().Header)

			// Set before next: handlers commit headers when they write.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")

			return next(c)
		}
	}
}
