package middleware

import (
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/labstack/echo/v4"

	"registry-router/internal/config"
	"registry-router/internal/metrics"
)

const forbiddenHTML = `<!DOCTYPE html>
<html><head><title>403 Forbidden</title></head>
<body><h1>Forbidden</h1><p>Administrative paths are not served through the registry router.</p></body>
</html>
`

// AdminGuard returns an Echo middleware that answers 403 for paths matching
// the admin.deny patterns, before any registry is resolved or contacted.
// Patterns are doublestar globs matched against the cleaned, decoded path.
// The body is JSON when the client's Accept or Content-Type names JSON and
// HTML otherwise. The metrics parameter may be nil.
func AdminGuard(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) echo.MiddlewareFunc {
	patterns := append([]string(nil), cfg.Admin.Deny...)
	logger = logger.With("component", "admin_guard")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			p := path.Clean("/" + req.URL.Path)

			pattern, blocked := matchDeny(patterns, p)
			if !blocked {
				return next(c)
			}

			if m != nil {
				m.AdminBlocked.Inc()
			}
			logger.Info("blocked administrative path",
				"host", req.Host,
				"path", p,
				"pattern", pattern,
				"remote_ip", c.RealIP(),
			)

			if wantsJSON(req.Header) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			return c.HTML(http.StatusForbidden, forbiddenHTML)
		}
	}
}

func matchDeny(patterns []string, p string) (string, bool) {
	for _, pattern := range patterns {
		// Patterns are validated at config load.
		if ok, _ := doublestar.Match(pattern, p); ok {
			return pattern, true
		}
	}
	return "", false
}

// wantsJSON reports whether Accept or Content-Type names a JSON media type.
func wantsJSON(h http.Header) bool {
	for _, v := range append(h.Values(echo.HeaderAccept), h.Values(echo.HeaderContentType)...) {
		for _, part := range strings.Split(v, ",") {
			mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			if mt == "application/json" || strings.HasSuffix(mt, "+json") {
				return true
			}
		}
	}
	return false
}
