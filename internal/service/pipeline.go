// Package service implements the request pipeline: classify, resolve,
// forward and transform.
package service

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"registry-router/internal/client"
	"registry-router/internal/config"
	"registry-router/internal/metrics"
	"registry-router/internal/model"
	"registry-router/internal/pkgpath"
	"registry-router/internal/registry"
	"registry-router/internal/transform"
)

// HeaderRegistry names the endpoint that produced a reply.
const HeaderRegistry = "X-Registry"

const userAgent = "registry-router/1.0"

// droppedRequestHeaders are never forwarded upstream in addition to the
// hop-by-hop set. Host and Content-Length are derived from the outbound
// request; Accept-Encoding is replaced with what the transformer decodes.
var droppedRequestHeaders = []string{
	"Host",
	"Content-Length",
	"Accept-Encoding",
}

// Pipeline serves one proxied request end to end.
type Pipeline struct {
	resolver *registry.Resolver
	client   *client.RegistryClient
	metrics  *metrics.Metrics
	logger   *slog.Logger

	rewrite      model.RewriteContext
	vhosts       map[string]string
	maxBodyBytes int64
}

// NewPipeline creates a Pipeline. The metrics parameter may be nil.
func NewPipeline(r *registry.Resolver, c *client.RegistryClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	vhosts := make(map[string]string, len(cfg.Server.VHosts))
	for _, h := range cfg.Server.VHosts {
		vhosts[strings.ToLower(h)] = h
	}
	return &Pipeline{
		resolver: r,
		client:   c,
		metrics:  m,
		logger:   logger.With("component", "pipeline"),
		rewrite: model.RewriteContext{
			PublicHost:     cfg.Server.PublicHost(),
			Scheme:         cfg.Rewrite.Scheme,
			RewriteEnabled: cfg.Rewrite.RewriteTarballs(),
		},
		vhosts:       vhosts,
		maxBodyBytes: cfg.Upstream.MaxBodyBytes,
	}
}

// Serve classifies the request path, resolves one registry, forwards the
// request and transforms the response. Every reply and every error produced
// after resolution names the chosen registry: the reply through the
// X-Registry header, errors through model.ProxyError.Registry.
func (p *Pipeline) Serve(pr *model.ProxyRequest) (*model.Reply, error) {
	ref := classify(pr.RawPath)
	ep := p.resolver.Resolve(pr.Method, ref)
	base := ep.String()

	call := client.Call{
		Registry: ep.Name,
		Base:     base,
		Method:   pr.Method,
		URL:      buildUpstreamURL(ep.BaseURL, pr, ref),
		Header:   filterRequestHeaders(pr),
	}
	if carriesBody(pr.Method) && pr.Body != nil {
		call.Body = pr.Body
		if cl := pr.Header.Get("Content-Length"); cl != "" {
			call.Header.Set("Content-Length", cl)
		}
	}

	p.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.RawPath,
		"registry", ep.Name,
		"package", packageName(ref),
	)

	resp, err := p.client.Do(pr.Ctx, call)
	if err != nil {
		return nil, withRegistry(err, base)
	}

	if resp.StatusCode == http.StatusNotFound {
		p.logger.Debug("registry reported not found",
			"kind", model.KindUpstreamReportedNotFound.String(),
			"registry", ep.Name,
			"path", pr.RawPath,
		)
	}

	rc := p.rewrite
	rc.VHost = p.vhosts[strings.ToLower(pr.Host)]

	out, err := transform.Transform(transform.Input{
		Method:       pr.Method,
		Response:     resp,
		Rewrite:      rc,
		Upstream:     ep.BaseURL,
		MaxBodyBytes: p.maxBodyBytes,
	})
	if err != nil {
		p.logger.Warn("transform failed",
			"registry", ep.Name,
			"path", pr.RawPath,
			"content_encoding", resp.ContentEncoding,
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.UpstreamErrors.WithLabelValues(ep.Name, model.KindMalformedUpstreamBody.String()).Inc()
		}
		return nil, withRegistry(err, base)
	}

	if out.Rewritten > 0 && p.metrics != nil {
		p.metrics.TarballRewrites.WithLabelValues(ep.Name).Add(float64(out.Rewritten))
	}

	out.Reply.Header.Set(HeaderRegistry, base)
	return out.Reply, nil
}

// classify returns the package named by an escaped path, or nil when the
// path does not name one.
func classify(escapedPath string) *model.PackageRef {
	ref, err := pkgpath.Parse(escapedPath)
	if err != nil {
		return nil
	}
	return &ref
}

// buildUpstreamURL joins the endpoint base path with the request path. Package
// paths are re-escaped into registry wire form; other paths are forwarded as
// the client escaped them. The query string is copied verbatim.
func buildUpstreamURL(base *url.URL, pr *model.ProxyRequest, ref *model.PackageRef) *url.URL {
	escaped := pr.RawPath
	if ref != nil {
		escaped = pkgpath.Escape(*ref)
		if strings.HasSuffix(pr.RawPath, "/") {
			escaped += "/"
		}
	}
	if escaped == "" {
		escaped = "/"
	}

	u := *base
	full := strings.TrimSuffix(base.EscapedPath(), "/") + escaped
	if decoded, err := url.PathUnescape(full); err == nil {
		u.Path = decoded
		u.RawPath = full
	} else {
		u.Path = full
		u.RawPath = ""
	}
	u.RawQuery = pr.RawQuery
	u.Fragment = ""
	return &u
}

func filterRequestHeaders(pr *model.ProxyRequest) http.Header {
	dst := pr.Header.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	client.RemoveHopByHop(dst)
	for _, h := range droppedRequestHeaders {
		dst.Del(h)
	}
	dst.Set("Accept-Encoding", transform.AcceptEncoding)
	dst.Set("User-Agent", userAgent)
	if pr.Host != "" {
		dst.Set("X-Forwarded-Host", pr.Host)
	}
	if pr.Scheme != "" {
		dst.Set("X-Forwarded-Proto", pr.Scheme)
	}
	return dst
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func withRegistry(err error, base string) error {
	var pe *model.ProxyError
	if errors.As(err, &pe) {
		if pe.Registry == "" {
			pe.Registry = base
		}
		return pe
	}
	return &model.ProxyError{Kind: model.KindInternal, Registry: base, Err: err}
}

func packageName(ref *model.PackageRef) string {
	if ref == nil {
		return ""
	}
	return ref.FullName()
}
