// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/registry-router/config.toml",
	"configs/config.toml",
}

// defaultAdminDeny blocks the CouchDB management UI and everything beneath it.
var defaultAdminDeny = []string{"/_utils", "/_utils/**"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	VHost           []string `kong:"name='vhost',help='Externally visible host name; repeat for several (overrides config).',env='VHOSTS'"`
	LogLevel        string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	RewriteTarballs *bool    `kong:"negatable,help='Rewrite tarball URLs in metadata to the vhost (overrides config).',env='REWRITE_TARBALLS'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Upstream   UpstreamConfig   `toml:"upstream"`
	Registries []RegistryConfig `toml:"registries"`
	Rewrite    RewriteConfig    `toml:"rewrite"`
	Admin      AdminConfig      `toml:"admin"`
	Log        LogConfig        `toml:"log"`
	Metrics    MetricsConfig    `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
	// VHosts are the externally visible host names this instance answers for.
	// The first one is the primary public host.
	VHosts []string `toml:"vhosts"`
}

// UpstreamConfig holds settings shared by all registry connections.
type UpstreamConfig struct {
	TimeoutSeconds  int   `toml:"timeout_seconds"`
	IdleConnections int   `toml:"idle_connections"`
	MaxBodyBytes    int64 `toml:"max_body_bytes"`
}

// RegistryConfig is one entry of the ordered registry list. Order is
// precedence: list private registries before public fallbacks.
type RegistryConfig struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
	// Packages are glob patterns of package names served by this registry,
	// e.g. "cdb" or "@myorg/*". Empty means every package.
	Packages []string `toml:"packages"`
}

// RewriteConfig controls tarball URL rewriting in metadata responses.
type RewriteConfig struct {
	// Tarballs defaults to true; a pointer tells "unset" from false.
	Tarballs *bool  `toml:"tarballs"`
	Scheme   string `toml:"scheme"`
}

// AdminConfig holds the administrative path deny-list.
type AdminConfig struct {
	Deny []string `toml:"deny"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/registry-router/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if len(cli.VHost) > 0 {
		c.Server.VHosts = cli.VHost
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.RewriteTarballs != nil {
		v := *cli.RewriteTarballs
		c.Rewrite.Tarballs = &v
	}
}

// validate reports every problem at once rather than stopping at the first.
func (c *Config) validate() error {
	var errs error

	if len(c.Registries) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("at least one [[registries]] entry is required"))
	}
	for i, r := range c.Registries {
		if r.URL == "" {
			errs = multierr.Append(errs, fmt.Errorf("registries[%d].url is required", i))
			continue
		}
		u, err := url.Parse(r.URL)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("registries[%d].url is not a valid URL: %w", i, err))
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = multierr.Append(errs, fmt.Errorf("registries[%d].url must use http or https; got %q", i, r.URL))
		}
	}

	if len(c.Server.VHosts) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.vhosts must list at least one host"))
	}
	for i, h := range c.Server.VHosts {
		if h == "" || strings.ContainsAny(h, "/ ") {
			errs = multierr.Append(errs, fmt.Errorf("server.vhosts[%d] must be a bare host[:port]; got %q", i, h))
		}
	}

	switch strings.ToLower(c.Rewrite.Scheme) {
	case "", "http", "https":
	default:
		errs = multierr.Append(errs, fmt.Errorf("rewrite.scheme must be http or https; got %q", c.Rewrite.Scheme))
	}

	for _, p := range c.Admin.Deny {
		if !strings.HasPrefix(p, "/") {
			errs = multierr.Append(errs, fmt.Errorf("admin.deny pattern %q must start with '/'", p))
			continue
		}
		if !doublestar.ValidatePattern(p) {
			errs = multierr.Append(errs, fmt.Errorf("admin.deny pattern %q is not a valid glob", p))
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port))
	}
	if c.Server.BodyMaxBytes < 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes))
	}
	if c.Upstream.TimeoutSeconds < 0 {
		errs = multierr.Append(errs, fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds))
	}
	if c.Upstream.IdleConnections < 0 {
		errs = multierr.Append(errs, fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections))
	}
	if c.Upstream.MaxBodyBytes < 0 {
		errs = multierr.Append(errs, fmt.Errorf("upstream.max_body_bytes must be non-negative; got %d", c.Upstream.MaxBodyBytes))
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	// Operational routes share the package namespace; keep them under /-/.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if !strings.HasPrefix(p, "/-/") {
			errs = multierr.Append(errs, fmt.Errorf("metrics.path must start with '/-/' so it cannot shadow a package; got %q", p))
		}
		for _, reserved := range []string{HealthzPath, StatusPath} {
			if p == reserved {
				errs = multierr.Append(errs, fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved))
			}
		}
	}

	return errs
}

// Reserved operational routes.
const (
	HealthzPath        = "/-/proxy/healthz"
	StatusPath         = "/-/proxy/status"
	DefaultMetricsPath = "/-/proxy/metrics"
)

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 50 * 1024 * 1024 // 50 MB, room for publish payloads
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxBodyBytes == 0 {
		c.Upstream.MaxBodyBytes = 256 * 1024 * 1024
	}
	if c.Rewrite.Tarballs == nil {
		enabled := true
		c.Rewrite.Tarballs = &enabled
	}
	c.Rewrite.Scheme = strings.ToLower(c.Rewrite.Scheme)
	if c.Admin.Deny == nil {
		c.Admin.Deny = append([]string(nil), defaultAdminDeny...)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// RewriteTarballs reports whether tarball URLs are rewritten. Unset means true.
func (c *RewriteConfig) RewriteTarballs() bool {
	return c.Tarballs == nil || *c.Tarballs
}

// PublicHost returns the primary vhost.
func (c *ServerConfig) PublicHost() string {
	if len(c.VHosts) == 0 {
		return ""
	}
	return c.VHosts[0]
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// Registry URLs may embed credentials, so the file is treated as sensitive.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
