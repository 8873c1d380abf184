package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"registry-router/internal/model"
	"registry-router/internal/service"
)

// credentialsPattern matches passwords of URLs embedded in error messages.
var credentialsPattern = regexp.MustCompile(`(://[^:/@\s]+:)[^@\s]+@`)

// ProxyHandler serves registry traffic through the request pipeline.
type ProxyHandler struct {
	pipeline *service.Pipeline
	logger   *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(p *service.Pipeline, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		pipeline: p,
		logger:   logger.With("component", "proxy_handler"),
	}
}

// Handle runs the request through the pipeline and writes the reply.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawPath:  req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Host:     req.Host,
		Scheme:   c.Scheme(),
		Header:   req.Header,
		Body:     req.Body,
	}

	reply, err := h.pipeline.Serve(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	header := c.Response().Header()
	for key, vals := range reply.Header {
		header[key] = append([]string(nil), vals...)
	}
	c.Response().WriteHeader(reply.StatusCode)

	if reply.Body == nil {
		return nil
	}
	// Status is already sent; a failed write means the client went away.
	if _, err := c.Response().Write(reply.Body); err != nil {
		h.logger.Debug("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var pe *model.ProxyError
	if !errors.As(err, &pe) {
		h.logger.Error("proxy error",
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}

	h.logger.Error("proxy error",
		"kind", pe.Kind.String(),
		"registry", sanitize(pe.Registry),
		"err", sanitizeError(pe.Err),
		"path", c.Request().URL.Path,
	)

	if pe.Registry != "" {
		c.Response().Header().Set(service.HeaderRegistry, pe.Registry)
	}
	return c.JSON(pe.Kind.Status(), map[string]string{
		"error": errorMessage(pe.Kind),
	})
}

func errorMessage(kind model.ErrorKind) string {
	switch kind {
	case model.KindUpstreamUnreachable:
		return "upstream registry unreachable"
	case model.KindMalformedUpstreamBody:
		return "upstream registry sent a malformed body"
	case model.KindUpstreamReportedNotFound:
		return "not found"
	case model.KindAdminPathBlocked:
		return "forbidden"
	default:
		return "internal error"
	}
}

// sanitizeError redacts URL passwords from error messages.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return sanitize(err.Error())
}

func sanitize(s string) string {
	return credentialsPattern.ReplaceAllString(s, "${1}[REDACTED]@")
}
