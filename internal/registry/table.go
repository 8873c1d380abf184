// Package registry holds the ordered table of upstream registries and the
// resolver that picks one of them for each request.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"registry-router/internal/config"
)

// ErrEmptyTable is returned at startup when no registries are configured.
var ErrEmptyTable = errors.New("registry table is empty: configure at least one [[registries]] entry")

// Endpoint is one upstream registry. Endpoints are immutable once the table
// is built.
type Endpoint struct {
	Name string
	// BaseURL is the endpoint's identity and the value of the X-Registry header.
	BaseURL *url.URL
	// Index is the endpoint's position in the table. Lower index means higher
	// precedence.
	Index int
	// Packages lists the package-name patterns routed to this endpoint.
	// An endpoint without patterns is a catch-all.
	Packages []string

	matchers []glob.Glob
}

// String returns the base URL without a trailing slash. A password in the
// URL is masked.
func (e *Endpoint) String() string {
	return e.BaseURL.Redacted()
}

// CatchAll reports whether the endpoint serves every package.
func (e *Endpoint) CatchAll() bool {
	return len(e.matchers) == 0
}

// Matches reports whether the endpoint's patterns accept the full package name.
func (e *Endpoint) Matches(fullName string) bool {
	if e.CatchAll() {
		return true
	}
	for _, m := range e.matchers {
		if m.Match(fullName) {
			return true
		}
	}
	return false
}

// Table is the ordered, read-only list of upstream registries.
//
// Order is precedence: entry 0 is the primary (private, publish target)
// registry and later entries are fallbacks, with the last entry serving
// anything nothing else claimed.
type Table struct {
	endpoints []*Endpoint
}

// NewTable builds the table from configuration. It fails when the list is
// empty, when a URL is invalid or repeated, or when a pattern does not compile.
func NewTable(cfg *config.Config) (*Table, error) {
	if len(cfg.Registries) == 0 {
		return nil, ErrEmptyTable
	}

	t := &Table{endpoints: make([]*Endpoint, 0, len(cfg.Registries))}
	seen := make(map[string]int, len(cfg.Registries))

	for i, rc := range cfg.Registries {
		u, err := url.Parse(strings.TrimSuffix(rc.URL, "/"))
		if err != nil {
			return nil, fmt.Errorf("registries[%d]: parse url: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("registries[%d]: url must be http or https; got %q", i, rc.URL)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("registries[%d]: url has no host: %q", i, rc.URL)
		}
		key := u.String()
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("registries[%d]: url %q duplicates registries[%d]", i, rc.URL, prev)
		}
		seen[key] = i

		ep := &Endpoint{
			Name:     rc.Name,
			BaseURL:  u,
			Index:    i,
			Packages: append([]string(nil), rc.Packages...),
		}
		if ep.Name == "" {
			ep.Name = u.Host
		}
		for _, p := range rc.Packages {
			g, err := glob.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("registries[%d]: package pattern %q: %w", i, p, err)
			}
			ep.matchers = append(ep.matchers, g)
		}
		t.endpoints = append(t.endpoints, ep)
	}

	return t, nil
}

// Len returns the number of endpoints.
func (t *Table) Len() int {
	return len(t.endpoints)
}

// At returns the endpoint at index i.
func (t *Table) At(i int) *Endpoint {
	return t.endpoints[i]
}

// Primary returns entry 0.
func (t *Table) Primary() *Endpoint {
	return t.endpoints[0]
}

// Fallback returns the last entry.
func (t *Table) Fallback() *Endpoint {
	return t.endpoints[len(t.endpoints)-1]
}

// Endpoints returns a copy of the ordered endpoint list.
func (t *Table) Endpoints() []*Endpoint {
	return append([]*Endpoint(nil), t.endpoints...)
}

// Names returns the endpoint names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.endpoints))
	for i, ep := range t.endpoints {
		names[i] = ep.Name
	}
	return names
}
