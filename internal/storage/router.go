package storage

import (
	"fmt"
)

// Router holds the configured backends, keyed by storage type, plus the
// deployment default used for new uploads. The set of backends is fixed at
// construction; configuration is an immutable snapshot per process, so
// there is no locking and no reload path. Moving existing objects between
// backends is the migration coordinator's job.
type Router struct {
	backends    map[StorageType]Backend
	defaultType StorageType
}

// NewRouter creates a Router over the given backends. defaultType selects
// the backend for new uploads and must be present in the set.
func NewRouter(defaultType StorageType, backends ...Backend) (*Router, error) {
	m := make(map[StorageType]Backend, len(backends))
	for _, b := range backends {
		if _, dup := m[b.Type()]; dup {
			return nil, fmt.Errorf("duplicate backend for type %q", b.Type())
		}
		m[b.Type()] = b
	}
	if _, ok := m[defaultType]; !ok {
		return nil, fmt.Errorf("default storage type %q has no configured backend", defaultType)
	}
	return &Router{backends: m, defaultType: defaultType}, nil
}

// Default returns the backend new uploads are written to.
func (r *Router) Default() Backend {
	return r.backends[r.defaultType]
}

// DefaultType returns the deployment's default storage type.
func (r *Router) DefaultType() StorageType {
	return r.defaultType
}

// ForType returns the backend holding objects tagged with t. This is the
// single dispatch point on a record's storage type; a record tagged with a
// type this deployment has no backend for is a configuration error, not a
// missing object.
func (r *Router) ForType(t StorageType) (Backend, error) {
	b, ok := r.backends[t]
	if !ok {
		return nil, fmt.Errorf("%w: no backend configured for storage type %q", ErrUnavailable, t)
	}
	return b, nil
}

// Types returns the configured storage types.
func (r *Router) Types() []StorageType {
	out := make([]StorageType, 0, len(r.backends))
	for t := range r.backends {
		out = append(out, t)
	}
	return out
}

// Close closes all backends.
func (r *Router) Close() error {
	var firstErr error
	for _, b := range r.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
