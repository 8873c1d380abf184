// Package client provides the outbound HTTP client for upstream registries.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"registry-router/internal/config"
	"registry-router/internal/metrics"
	"registry-router/internal/model"
)

// ErrBodyTooLarge is returned when a registry response exceeds upstream.max_body_bytes.
var ErrBodyTooLarge = errors.New("upstream body exceeds upstream.max_body_bytes")

// hopByHopHeaders are connection-scoped and never copied between hops.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Call describes one outbound registry request.
type Call struct {
	// Registry names the endpoint for logs and metrics; Base is its base URL
	// and the value reported in errors.
	Registry string
	Base     string
	Method   string
	URL      *url.URL
	Header   http.Header
	Body     io.Reader
}

// RegistryClient sends requests to upstream registries.
type RegistryClient struct {
	httpClient   *http.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	maxBodyBytes int64
}

// NewRegistryClient creates a RegistryClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewRegistryClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RegistryClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Accept-Encoding is set explicitly and decoded by the transformer.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &RegistryClient{
		httpClient: &http.Client{
			Transport: transport,
			// Covers connect, headers and body read.
			Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			// Redirects are the client's business; pass them through.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:       logger.With("component", "registry_client"),
		metrics:      m,
		maxBodyBytes: cfg.Upstream.MaxBodyBytes,
	}
}

// Do performs the call and reads the whole response body. Transport failures
// come back as a *model.ProxyError of kind KindUpstreamUnreachable; any HTTP
// status, including 4xx and 5xx, is a successful call.
func (c *RegistryClient) Do(ctx context.Context, call Call) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL.String(), call.Body)
	if err != nil {
		return nil, &model.ProxyError{Kind: model.KindInternal, Registry: call.Base, Err: fmt.Errorf("build upstream request: %w", err)}
	}
	if call.Header != nil {
		req.Header = call.Header
	}
	if call.Body == nil || call.Body == http.NoBody {
		req.ContentLength = 0
	} else if cl := call.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			req.ContentLength = n
		}
	}
	req.Header.Del("Content-Length")

	c.logger.Debug("upstream request",
		"registry", call.Registry,
		"method", call.Method,
		"path", call.URL.EscapedPath(),
	)

	method := metrics.NormalizeMethod(call.Method)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(call.Registry, method, start)
		return nil, c.unreachable(call, fmt.Errorf("upstream request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := c.readBody(resp.Body)
	c.observe(call.Registry, method, start)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, c.fail(call, model.KindMalformedUpstreamBody, err)
		}
		return nil, c.unreachable(call, fmt.Errorf("read upstream body: %w", err))
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(call.Registry, method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode:      resp.StatusCode,
		Header:          filterResponseHeaders(resp.Header),
		Body:            body,
		ContentEncoding: strings.TrimSpace(resp.Header.Get("Content-Encoding")),
	}, nil
}

// CloseIdleConnections releases pooled connections.
func (c *RegistryClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *RegistryClient) readBody(r io.Reader) ([]byte, error) {
	if c.maxBodyBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, c.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

func (c *RegistryClient) observe(registry, method string, start time.Time) {
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(registry, method).Observe(time.Since(start).Seconds())
	}
}

func (c *RegistryClient) unreachable(call Call, err error) error {
	return c.fail(call, model.KindUpstreamUnreachable, err)
}

func (c *RegistryClient) fail(call Call, kind model.ErrorKind, err error) error {
	if c.metrics != nil {
		c.metrics.UpstreamErrors.WithLabelValues(call.Registry, kind.String()).Inc()
	}
	return &model.ProxyError{Kind: kind, Registry: call.Base, Err: err}
}

// filterResponseHeaders copies src without hop-by-hop headers, headers named
// in Connection, Content-Length and Content-Encoding. The last two describe
// the wire body, which the transformer replaces.
func filterResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	RemoveHopByHop(dst)
	dst.Del("Content-Length")
	dst.Del("Content-Encoding")
	return dst
}

// RemoveHopByHop deletes hop-by-hop headers from h, including any listed in
// its Connection header.
func RemoveHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
