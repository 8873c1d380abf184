package registry

import (
	"net/http"

	"registry-router/internal/model"
)

// Resolver maps a request to exactly one endpoint. Resolution is structural:
// it looks only at the method, the package reference and the table, and
// never asks a registry whether a package exists.
type Resolver struct {
	table *Table
}

// NewResolver creates a Resolver over t.
func NewResolver(t *Table) *Resolver {
	return &Resolver{table: t}
}

// Resolve picks the endpoint for a request. ref is nil for paths that do not
// name a package.
//
// Rules, in order:
//  1. writes (POST, PUT, DELETE) go to the primary endpoint;
//  2. package reads go to the first endpoint whose patterns match the
//     package name, catch-all endpoints matching everything;
//  3. other reads go to the first catch-all endpoint;
//  4. when nothing matched, the last endpoint.
func (r *Resolver) Resolve(method string, ref *model.PackageRef) *Endpoint {
	if isWrite(method) {
		return r.table.Primary()
	}

	for _, ep := range r.table.endpoints {
		if ref == nil {
			if ep.CatchAll() {
				return ep
			}
			continue
		}
		if ep.Matches(ref.FullName()) {
			return ep
		}
	}

	return r.table.Fallback()
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
