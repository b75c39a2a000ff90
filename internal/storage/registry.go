package storage

import (
	"errors"
	"fmt"
	"sort"
)

// Registry maps a backend kind to its provider. A record whose StorageProvider is empty
// resolves to the default kind.
type Registry struct {
	providers   map[Kind]Provider
	defaultKind Kind
}

// NewRegistry creates a registry. The first provider becomes the default unless
// SetDefault is called.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[Kind]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the provider for p.Kind().
func (r *Registry) Register(p Provider) {
	if r.defaultKind == "" {
		r.defaultKind = p.Kind()
	}
	r.providers[p.Kind()] = p
}

// SetDefault selects the provider used for records without an explicit kind.
func (r *Registry) SetDefault(kind Kind) error {
	if _, ok := r.providers[kind]; !ok {
		return fmt.Errorf("SetDefault: provider %q is not registered", kind)
	}
	r.defaultKind = kind
	return nil
}

// Resolve normalises a raw provider name from a file record to a registered kind.
func (r *Registry) Resolve(raw string) Kind {
	if raw == "" {
		return r.defaultKind
	}
	return Kind(raw)
}

// Get returns the provider for kind.
func (r *Registry) Get(kind Kind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// Kinds returns the registered kinds in a stable order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Providers returns the registered providers ordered by kind.
func (r *Registry) Providers() []Provider {
	kinds := r.Kinds()
	out := make([]Provider, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, r.providers[k])
	}
	return out
}

// Close closes every registered provider and joins their errors.
func (r *Registry) Close() error {
	var errs []error
	for _, k := range r.Kinds() {
		if err := r.providers[k].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
