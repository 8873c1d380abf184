package transform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"registry-router/internal/model"
)

// rewriteTarballs re-hosts every tarball URL in a package metadata document.
// It understands both shapes a registry returns: a packument, where URLs sit
// at versions.<v>.dist.tarball, and a single version document, where the URL
// is dist.tarball. It returns the body unchanged when nothing was rewritten.
func rewriteTarballs(body []byte, rc model.RewriteContext, upstream *url.URL) ([]byte, int, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("parse metadata: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("parse metadata: trailing data after document")
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return body, 0, nil
	}

	n := rewriteDist(obj, rc, upstream)
	if versions, ok := obj["versions"].(map[string]any); ok {
		for _, v := range versions {
			if vobj, ok := v.(map[string]any); ok {
				n += rewriteDist(vobj, rc, upstream)
			}
		}
	}
	if n == 0 {
		return body, 0, nil
	}

	out, err := json.MarshalNoEscape(obj)
	if err != nil {
		return nil, 0, fmt.Errorf("encode metadata: %w", err)
	}
	return out, n, nil
}

// rewriteDist rewrites obj.dist.tarball in place and reports whether it did.
func rewriteDist(obj map[string]any, rc model.RewriteContext, upstream *url.URL) int {
	dist, ok := obj["dist"].(map[string]any)
	if !ok {
		return 0
	}
	raw, ok := dist["tarball"].(string)
	if !ok {
		return 0
	}
	rewritten, ok := RewriteURL(raw, rc, upstream)
	if !ok {
		return 0
	}
	dist["tarball"] = rewritten
	return 1
}

// RewriteURL moves an absolute tarball URL onto the vhost, keeping its path
// and query. When the URL lives under the upstream's base path, that prefix
// is dropped so the result addresses the package through the router.
// Relative URLs, URLs already on the vhost and unparseable values are left
// alone and reported with ok == false.
func RewriteURL(raw string, rc model.RewriteContext, upstream *url.URL) (string, bool) {
	host := rc.Host()
	if host == "" {
		return raw, false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return raw, false
	}
	if strings.EqualFold(u.Host, host) {
		return raw, false
	}

	if upstream != nil && strings.EqualFold(u.Host, upstream.Host) {
		base := strings.TrimSuffix(upstream.EscapedPath(), "/")
		p := u.EscapedPath()
		if base != "" && strings.HasPrefix(p, base+"/") {
			p = p[len(base):]
			if decoded, err := url.PathUnescape(p); err == nil {
				u.Path = decoded
				u.RawPath = p
			}
		}
	}

	u.Host = host
	u.User = nil
	if rc.Scheme != "" {
		u.Scheme = rc.Scheme
	}
	return u.String(), true
}
