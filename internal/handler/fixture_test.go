package handler

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"

	"registry-router/internal/client"
	"registry-router/internal/config"
	"registry-router/internal/metrics"
	"registry-router/internal/middleware"
	"registry-router/internal/registry"
	"registry-router/internal/service"
)

const testVHost = "npm.mydomain.com"

// fakeRegistries serves a private CouchDB-style registry and a public one
// with the documents the routing tests expect.
type fakeRegistries struct {
	private *httptest.Server
	public  *httptest.Server

	privateBase string
	privateHits atomic.Int64
	publicHits  atomic.Int64
}

func newFakeRegistries(t *testing.T) *fakeRegistries {
	t.Helper()
	f := &fakeRegistries{}

	priv := http.NewServeMux()
	prefix := "/registry/_design/app/_rewrite"
	priv.HandleFunc("GET "+prefix+"/cdb", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"name":"cdb","versions":{"0.0.1":{"name":"cdb","version":"0.0.1","dist":{"tarball":"http://localhost:5984/file.tgz"}}}}`)
	})
	priv.HandleFunc("GET "+prefix+"/cdb/0.0.1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"name":"cdb","version":"0.0.1","dist":{"tarball":"http://localhost:5984/file.tgz"}}`)
	})
	// Writes echo the request body, like a CouchDB-backed registry does.
	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		priv.HandleFunc(m+" "+prefix+"/cdb", echoBody)
	}
	priv.HandleFunc(http.MethodDelete+" "+prefix+"/core-util-is", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":"not_found","reason":"missing"}`)
	})
	priv.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":"not_found"}`)
	})

	pub := http.NewServeMux()
	pub.HandleFunc("GET /core-util-is", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"name":"core-util-is"}`)
	})
	pub.HandleFunc("GET /core-util-is/1.0.1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"name":"core-util-is","version":"1.0.1"}`)
	})
	pub.HandleFunc("GET /core-util-is-gzipped", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte(`{"success":true}`))
		_ = zw.Close()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	})
	pub.HandleFunc("GET /plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	})
	pub.HandleFunc("GET /server-error", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"boom"}`)
	})
	pub.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	})
	pub.HandleFunc("GET /-/by-field", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "field=name" {
			writeJSON(w, http.StatusBadRequest, `{"error":"bad query"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"pkg":{"name":"pkg"}}`)
	})
	pub.HandleFunc("/@scope%2Fmodule", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			return
		}
		writeJSON(w, http.StatusOK, `{"name":"@scope/module"}`)
	})
	pub.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":"not_found"}`)
	})

	f.private = httptest.NewServer(counting(&f.privateHits, priv))
	t.Cleanup(f.private.Close)
	f.public = httptest.NewServer(counting(&f.publicHits, pub))
	t.Cleanup(f.public.Close)
	f.privateBase = f.private.URL + prefix
	return f
}

func counting(n *atomic.Int64, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func echoBody(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (f *fakeRegistries) config(rewrite bool) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{VHosts: []string{testVHost}},
		Upstream: config.UpstreamConfig{TimeoutSeconds: 5, IdleConnections: 10},
		Registries: []config.RegistryConfig{
			{Name: "private", URL: f.privateBase, Packages: []string{"cdb"}},
			{Name: "public", URL: f.public.URL},
		},
		Rewrite: config.RewriteConfig{Tarballs: &rewrite},
		Admin:   config.AdminConfig{Deny: []string{"/_utils", "/_utils/**"}},
		Metrics: config.MetricsConfig{Enabled: true, Path: config.DefaultMetricsPath},
	}
}

// newRouter builds the Echo instance the way main does, minus the listener.
func newRouter(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	tbl, err := registry.NewTable(cfg)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	c := client.NewRegistryClient(cfg, logger, m)
	t.Cleanup(c.CloseIdleConnections)
	p := service.NewPipeline(registry.NewResolver(tbl), c, cfg, logger, m)

	e := echo.New()
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.MetricsMiddleware(m))
	RegisterRoutes(e, NewProxyHandler(p, logger), NewHealthHandler(cfg, tbl, "test"), cfg, m, logger)
	return e
}

func newProxyServer(t *testing.T, rewrite bool) (*fakeRegistries, *httptest.Server) {
	t.Helper()
	f := newFakeRegistries(t)
	srv := httptest.NewServer(newRouter(t, f.config(rewrite)))
	t.Cleanup(srv.Close)
	return f, srv
}
