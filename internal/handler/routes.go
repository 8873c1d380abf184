package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"registry-router/internal/config"
	"registry-router/internal/metrics"
	"registry-router/internal/middleware"
)

// proxyMethods are the methods forwarded to registries.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
}

// RegisterRoutes wires all route handlers onto the Echo instance.
//
// Registry traffic is only served on a host router per configured vhost, so
// requests for any other Host fall through to the default router and get
// 404. Host names match case-insensitively. Operational routes live under /-/proxy/ on every router. The metrics
// parameter may be nil.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	e.Pre(middleware.LowercaseHost())
	registerOps(e, health, cfg, m)

	guard := middleware.AdminGuard(cfg, m, logger)
	for _, vhost := range cfg.Server.VHosts {
		g := e.Host(strings.ToLower(vhost), guard)
		registerOps(g, health, cfg, m)
		g.Match(proxyMethods, "/*", proxy.Handle)
	}
}

// router is the subset of *echo.Echo and *echo.Group used for routes.
type router interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

func registerOps(r router, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	r.GET(config.HealthzPath, health.Healthz)
	r.GET(config.StatusPath, health.Status)
	if cfg.Metrics.Enabled && m != nil {
		r.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
