// Package memory is an in-memory storage.Provider. It is safe for concurrent use and
// is meant for tests and local dry runs; data is lost when the process exits.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/storage"
)

type object struct {
	data     []byte
	modified time.Time
}

// Provider keeps objects in a map keyed by path.
type Provider struct {
	kind storage.Kind

	mu      sync.RWMutex
	objects map[string]object
	closed  bool

	// Failure injection, keyed by listing prefix or object path.
	listErrs   map[string]error
	existsErrs map[string]error
	deleteErrs map[string]error
	hidden     map[string]bool

	existsCalls int
}

// New creates an empty provider that reports itself as kind.
func New(kind storage.Kind) *Provider {
	return &Provider{
		kind:       kind,
		objects:    make(map[string]object),
		listErrs:   make(map[string]error),
		existsErrs: make(map[string]error),
		deleteErrs: make(map[string]error),
		hidden:     make(map[string]bool),
	}
}

// Put stores data at objectPath.
func (p *Provider) Put(objectPath string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[objectPath] = object{data: append([]byte(nil), data...), modified: time.Now()}
}

// Has reports whether objectPath is stored, bypassing failure injection.
func (p *Provider) Has(objectPath string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.objects[objectPath]
	return ok
}

// Len returns the number of stored objects.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}

// FailList makes List on prefix return err.
func (p *Provider) FailList(prefix string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listErrs[storage.ListPrefix(prefix)] = err
}

// FailExists makes Exists on objectPath return err.
func (p *Provider) FailExists(objectPath string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.existsErrs[objectPath] = err
}

// FailDelete makes Delete on objectPath return err.
func (p *Provider) FailDelete(objectPath string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteErrs[objectPath] = err
}

// HideFromListing keeps objectPath out of List results while Exists still finds it,
// which simulates a stale or eventually consistent listing.
func (p *Provider) HideFromListing(objectPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hidden[objectPath] = true
}

// ExistsCalls returns how many probes were made.
func (p *Provider) ExistsCalls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.existsCalls
}

// Kind implements storage.Provider.
func (p *Provider) Kind() storage.Kind { return p.kind }

// List implements storage.Provider.
func (p *Provider) List(ctx context.Context, prefix string, limit, offset int) ([]storage.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, storage.ErrProviderClosed
	}

	dir := storage.ListPrefix(prefix)
	if err := p.listErrs[dir]; err != nil {
		return nil, err
	}

	var names []string
	for path := range p.objects {
		if p.hidden[path] {
			continue
		}
		if name, ok := storage.ObjectName(path, dir); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	window := storage.Window(names, limit, offset)
	out := make([]storage.Blob, 0, len(window))
	for _, name := range window {
		obj := p.objects[dir+name]
		out = append(out, storage.Blob{
			Name:         name,
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
		})
	}
	return out, nil
}

// Download implements storage.Provider.
func (p *Provider) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, storage.ErrProviderClosed
	}
	obj, ok := p.objects[objectPath]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

// Exists implements storage.Provider.
func (p *Provider) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.existsCalls++
	if p.closed {
		return false, storage.ErrProviderClosed
	}
	if err := p.existsErrs[objectPath]; err != nil {
		return false, err
	}
	_, ok := p.objects[objectPath]
	return ok, nil
}

// Delete implements storage.Provider.
func (p *Provider) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return storage.ErrProviderClosed
	}
	if err := p.deleteErrs[objectPath]; err != nil {
		return err
	}
	if _, ok := p.objects[objectPath]; !ok {
		return storage.ErrNotFound
	}
	delete(p.objects, objectPath)
	return nil
}

// Close implements storage.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Ensure Provider implements storage.Provider.
var _ storage.Provider = (*Provider)(nil)
