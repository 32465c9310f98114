// Package configdb is the seam for the out-of-scope device
// configuration database client (the original_source's
// psalg/configdb/webconfigdb.py, an HTTP client against a couchdb
// instance). spec.md §1 names it an external collaborator; this
// package only defines the interface a future condition_configure
// could call through, plus a no-op stub, so the seam exists without
// pulling an HTTP client into scope.
package configdb

import "context"

// Client fetches a device's configuration document by level. No
// implementation here talks to a real config database; schema
// validation of the returned payload is explicitly out of scope
// (spec.md §1's Non-goals).
type Client interface {
	FetchDeviceConfig(ctx context.Context, level string) (map[string]interface{}, error)
}

// Noop satisfies Client without calling out anywhere. It is the only
// implementation shipped here; wiring a real HTTP-backed client is
// explicitly left to a deployment that needs it.
type Noop struct{}

// FetchDeviceConfig always returns an empty document and no error.
func (Noop) FetchDeviceConfig(context.Context, string) (map[string]interface{}, error) {
	return nil, nil
}
