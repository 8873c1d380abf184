// Package model defines shared types for the router.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is the immutable view of an inbound client request.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the decoded request path; RawPath keeps the client's escaping
	// so "@scope%2Fname" can be told apart from "@scope/name" when needed.
	Path     string
	RawPath  string
	RawQuery string
	Host     string
	Scheme   string
	Header   http.Header
	Body     io.Reader
}

// UpstreamResponse is what a registry returned, produced once per call and
// consumed once by the transformer.
type UpstreamResponse struct {
	StatusCode int
	// Header excludes hop-by-hop headers, Content-Length and Content-Encoding.
	Header          http.Header
	Body            []byte
	ContentEncoding string
}

// Reply is the outward response the pipeline hands to the HTTP layer.
// A nil Body means no body is written.
type Reply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RewriteContext controls how tarball URLs in metadata are re-hosted.
// It is fixed at startup except for VHost, which is picked per request
// from the configured vhosts.
type RewriteContext struct {
	// PublicHost is the primary externally visible host.
	PublicHost string
	// VHost is the host the current request arrived on.
	VHost string
	// Scheme, when set, replaces the scheme of rewritten URLs.
	Scheme         string
	RewriteEnabled bool
}

// Host returns the host rewritten URLs should point at.
func (rc RewriteContext) Host() string {
	if rc.VHost != "" {
		return rc.VHost
	}
	return rc.PublicHost
}

// PackageRef identifies a package (and optionally a version or sub-path)
// derived from a request path. It is never persisted.
type PackageRef struct {
	// Scope is the scope without the leading "@"; empty for unscoped packages.
	Scope   string
	Name    string
	Version string
	// Rest holds the decoded segments following the name or version,
	// e.g. ["-", "cdb-0.0.1.tgz"] for a tarball.
	Rest []string
	// Tarball is the file name of a tarball download path; Version is then
	// derived from it rather than taken from a path segment.
	Tarball string
}

// FullName returns the package name as clients write it: "@scope/name" or "name".
func (r PackageRef) FullName() string {
	if r.Scope == "" {
		return r.Name
	}
	return "@" + r.Scope + "/" + r.Name
}

// Scoped reports whether the package is namespaced.
func (r PackageRef) Scoped() bool {
	return r.Scope != ""
}
