package model

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies failures of the request pipeline.
type ErrorKind int

const (
	// KindInternal covers anything not classified below; it maps to 500.
	KindInternal ErrorKind = iota
	// KindUpstreamUnreachable is a connection, DNS or timeout failure.
	KindUpstreamUnreachable
	// KindMalformedUpstreamBody is an undecodable or unparseable upstream body
	// that had to be rewritten.
	KindMalformedUpstreamBody
	// KindUpstreamReportedNotFound marks a 404 from the resolved registry.
	// The reply itself passes through; the kind exists for logs and metrics.
	KindUpstreamReportedNotFound
	// KindAdminPathBlocked is a deny-listed administrative path.
	KindAdminPathBlocked
)

func (k ErrorKind) String() string {
	switch k {
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindMalformedUpstreamBody:
		return "malformed_upstream_body"
	case KindUpstreamReportedNotFound:
		return "upstream_not_found"
	case KindAdminPathBlocked:
		return "admin_path_blocked"
	default:
		return "internal"
	}
}

// Status returns the HTTP status a pipeline failure of this kind maps to.
func (k ErrorKind) Status() int {
	switch k {
	case KindUpstreamReportedNotFound:
		return http.StatusNotFound
	case KindAdminPathBlocked:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ProxyError is a classified pipeline failure.
type ProxyError struct {
	Kind ErrorKind
	// Registry is the base URL of the resolved registry, when one was resolved.
	Registry string
	Err      error
}

func (e *ProxyError) Error() string {
	if e.Registry != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Registry, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// NewProxyError wraps err with a kind.
func NewProxyError(kind ErrorKind, err error) *ProxyError {
	return &ProxyError{Kind: kind, Err: err}
}
