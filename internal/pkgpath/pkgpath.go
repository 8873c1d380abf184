// Package pkgpath classifies registry request paths into package references
// and rebuilds paths from them.
package pkgpath

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"

	"registry-router/internal/model"
)

// ErrNotAPackagePath is returned for paths that do not name a package,
// such as "/", "/-/by-field" or "/_utils/index.html".
var ErrNotAPackagePath = errors.New("not a package path")

// tarballMarker is the segment separating a package name from its tarball file.
const tarballMarker = "-"

// Parse extracts a package reference from an escaped request path.
//
// Splitting happens before percent-decoding, so both "/@scope/name" and
// "/@scope%2Fname" yield scope "scope" and name "name", and the slash
// between them is never read as a version separator.
func Parse(escapedPath string) (model.PackageRef, error) {
	trimmed := strings.TrimPrefix(escapedPath, "/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return model.PackageRef{}, ErrNotAPackagePath
	}

	raw := strings.Split(trimmed, "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		d, err := url.PathUnescape(s)
		if err != nil {
			return model.PackageRef{}, fmt.Errorf("%w: segment %q: %v", ErrNotAPackagePath, s, err)
		}
		if d == "" {
			return model.PackageRef{}, fmt.Errorf("%w: empty segment in %q", ErrNotAPackagePath, escapedPath)
		}
		segs[i] = d
	}

	first := segs[0]
	if strings.HasPrefix(first, "-") || strings.HasPrefix(first, "_") {
		return model.PackageRef{}, ErrNotAPackagePath
	}

	var ref model.PackageRef
	rest := segs[1:]

	if strings.HasPrefix(first, "@") {
		scope, name, encoded := strings.Cut(first[1:], "/")
		if !encoded {
			if len(rest) == 0 {
				return model.PackageRef{}, fmt.Errorf("%w: scope %q without a name", ErrNotAPackagePath, first)
			}
			name = rest[0]
			rest = rest[1:]
		}
		ref.Scope = scope
		ref.Name = name
	} else {
		ref.Name = first
	}

	if ref.Name == "" || strings.Contains(ref.Name, "/") || (strings.HasPrefix(first, "@") && ref.Scope == "") {
		return model.PackageRef{}, fmt.Errorf("%w: malformed package name in %q", ErrNotAPackagePath, escapedPath)
	}

	if len(rest) == 0 {
		return ref, nil
	}

	if rest[0] == tarballMarker {
		ref.Rest = rest
		if len(rest) == 2 {
			ref.Tarball = rest[1]
			ref.Version = tarballVersion(ref.Name, rest[1])
		}
		return ref, nil
	}

	ref.Version = rest[0]
	if len(rest) > 1 {
		ref.Rest = rest[1:]
	}
	return ref, nil
}

// tarballVersion extracts the version from a "<name>-<version>.tgz" file name.
// It returns "" when the file name does not carry a valid semver version.
func tarballVersion(name, file string) string {
	v, ok := strings.CutPrefix(file, name+"-")
	if !ok {
		return ""
	}
	v, ok = strings.CutSuffix(v, ".tgz")
	if !ok {
		return ""
	}
	if _, err := semver.StrictNewVersion(v); err != nil {
		return ""
	}
	return v
}

// Format rebuilds the decoded path of ref, e.g. "/@scope/name/1.0.0".
func Format(ref model.PackageRef) string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(ref.FullName())
	for _, s := range tail(ref) {
		b.WriteByte('/')
		b.WriteString(s)
	}
	return b.String()
}

// Escape rebuilds the wire form of ref for an upstream request. The scope and
// name are joined by an encoded slash ("@scope%2Fname") so the pair survives
// as a single path segment.
func Escape(ref model.PackageRef) string {
	var b strings.Builder
	b.WriteByte('/')
	if ref.Scoped() {
		b.WriteByte('@')
		b.WriteString(url.PathEscape(ref.Scope))
		b.WriteString("%2F")
	}
	b.WriteString(url.PathEscape(ref.Name))
	for _, s := range tail(ref) {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// tail returns the segments after the package name.
func tail(ref model.PackageRef) []string {
	if ref.Version == "" || ref.Tarball != "" {
		return ref.Rest
	}
	return append([]string{ref.Version}, ref.Rest...)
}
