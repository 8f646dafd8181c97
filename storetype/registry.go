// Package storetype implements the configured-type-key dispatcher (spec
// §4.10, C11). It replaces the source's per-class inheritance with a plain
// string-keyed registry of capability-set implementations, grounded on the
// teacher's own endpoint dispatch (go/materialize/driver.NewDriver, a
// switch over a configured endpoint type that returns errs.KindUnknownStoreType
// for an unrecognized key).
package storetype

import (
	"strings"
	"sync"

	"github.com/eventledger/eventledger/errs"
)

// Registry is a generic, case-insensitive string-keyed registry of store
// implementations. One Registry[T] exists per capability (documents,
// events, tags, snapshots); T is the capability interface.
type Registry[T any] struct {
	mu       sync.RWMutex
	defaultK string
	impls    map[string]T
}

// NewRegistry builds an empty registry with the given default key.
func NewRegistry[T any](defaultKey string) *Registry[T] {
	return &Registry[T]{defaultK: strings.ToLower(defaultKey), impls: make(map[string]T)}
}

// Register installs impl under key, case-insensitively. A later call with
// the same key replaces the earlier registration.
func (r *Registry[T]) Register(key string, impl T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[strings.ToLower(key)] = impl
}

// Resolve looks up key, falling back to the registry's default key when key
// is empty. It returns errs.KindUnknownStoreType when neither is registered.
func (r *Registry[T]) Resolve(key string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	k := strings.ToLower(key)
	if k == "" {
		k = r.defaultK
	}
	impl, ok := r.impls[k]
	if !ok {
		return zero, errs.New(errs.KindUnknownStoreType, "no store registered for type %q", k)
	}
	return impl, nil
}

// ResolveChain applies spec §9's documented precedence — DataStore →
// StreamConnectionName → default — across a small ordered list of
// candidate keys: the first non-empty candidate selects the type key,
// falling back to the registry default when every candidate is empty.
func (r *Registry[T]) ResolveChain(candidates ...string) (T, error) {
	for _, c := range candidates {
		if c != "" {
			return r.Resolve(c)
		}
	}
	return r.Resolve("")
}
