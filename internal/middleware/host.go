package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// LowercaseHost folds the request Host to lower case. Echo selects host
// routers by exact Host match, and host names are case-insensitive.
// Register it with e.Pre so it runs before routing.
func LowercaseHost() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			req.Host = strings.ToLower(req.Host)
			return next(c)
		}
	}
}
