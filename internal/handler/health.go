package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"registry-router/internal/config"
	"registry-router/internal/registry"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	table   *registry.Table
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, t *registry.Table, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, table: t, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type registryStatus struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Packages []string `json:"packages,omitempty"`
	CatchAll bool     `json:"catch_all"`
}

type statusResponse struct {
	Status          string           `json:"status"`
	Version         string           `json:"version"`
	VHosts          []string         `json:"vhosts"`
	RewriteTarballs bool             `json:"rewrite_tarballs"`
	Registries      []registryStatus `json:"registries"`
}

// Status reports the version, vhosts and registry table in precedence order.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:          "ok",
		Version:         string(h.version),
		VHosts:          h.cfg.Server.VHosts,
		RewriteTarballs: h.cfg.Rewrite.RewriteTarballs(),
	}
	for _, ep := range h.table.Endpoints() {
		resp.Registries = append(resp.Registries, registryStatus{
			Name:     ep.Name,
			URL:      ep.String(),
			Packages: ep.Packages,
			CatchAll: ep.CatchAll(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}
