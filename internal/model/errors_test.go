package model

import (
	"errors"
	"io"
	"net/http"
	"testing"
)

func TestErrorKind_Status(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{KindUpstreamUnreachable, http.StatusInternalServerError},
		{KindMalformedUpstreamBody, http.StatusInternalServerError},
		{KindUpstreamReportedNotFound, http.StatusNotFound},
		{KindAdminPathBlocked, http.StatusForbidden},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Status(); got != tt.want {
				t.Errorf("Status() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProxyError_Unwrap(t *testing.T) {
	err := &ProxyError{Kind: KindUpstreamUnreachable, Registry: "http://localhost:5984", Err: io.ErrUnexpectedEOF}

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is should see the wrapped error")
	}

	var pe *ProxyError
	if !errors.As(error(err), &pe) || pe.Kind != KindUpstreamUnreachable {
		t.Errorf("errors.As kind = %v, want %v", pe.Kind, KindUpstreamUnreachable)
	}

	want := "upstream_unreachable (http://localhost:5984): unexpected EOF"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestPackageRef_FullName(t *testing.T) {
	if got := (PackageRef{Name: "cdb"}).FullName(); got != "cdb" {
		t.Errorf("FullName() = %q, want %q", got, "cdb")
	}
	if got := (PackageRef{Scope: "scope", Name: "module"}).FullName(); got != "@scope/module" {
		t.Errorf("FullName() = %q, want %q", got, "@scope/module")
	}
}

func TestRewriteContext_Host(t *testing.T) {
	rc := RewriteContext{PublicHost: "npm.mydomain.com"}
	if got := rc.Host(); got != "npm.mydomain.com" {
		t.Errorf("Host() = %q, want public host", got)
	}
	rc.VHost = "npm.other.com"
	if got := rc.Host(); got != "npm.other.com" {
		t.Errorf("Host() = %q, want vhost", got)
	}
}
