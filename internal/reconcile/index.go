package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Index is a snapshot of the blob paths found by listing, per provider. It may lag
// reality, so a miss is only a hint that a probe is needed.
type Index struct {
	mu    sync.RWMutex
	blobs map[storage.Kind]map[string]storage.Blob
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{blobs: make(map[storage.Kind]map[string]storage.Blob)}
}

// Add records a blob under its full path.
func (idx *Index) Add(kind storage.Kind, b storage.Blob) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.blobs[kind]
	if !ok {
		m = make(map[string]storage.Blob)
		idx.blobs[kind] = m
	}
	m[b.Name] = b
}

// Contains reports whether path was listed on provider kind. A nil index contains nothing.
func (idx *Index) Contains(kind storage.Kind, path string) bool {
	if idx == nil {
		return false
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.blobs[kind][path]
	return ok
}

// Len returns the number of indexed blobs across providers.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, m := range idx.blobs {
		n += len(m)
	}
	return n
}

// Blobs returns the blobs indexed for kind, sorted by path.
func (idx *Index) Blobs(kind storage.Kind) []storage.Blob {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]storage.Blob, 0, len(idx.blobs[kind]))
	for _, b := range idx.blobs[kind] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Kinds returns the providers that have at least one indexed blob, sorted.
func (idx *Index) Kinds() []storage.Kind {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	kinds := make([]storage.Kind, 0, len(idx.blobs))
	for k := range idx.blobs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// IndexOptions controls BuildIndex.
type IndexOptions struct {
	// Roots are the listing roots, for example "statements/2024".
	Roots []string

	// Partitions are the sub-prefixes listed under every root. Defaults to months 1–12.
	Partitions []string

	// PageSize is the List page size. Defaults to 100.
	PageSize int

	// Concurrency bounds the number of partitions listed at once. Defaults to 1.
	Concurrency int
}

// YearRoots returns prefix/year for every year from start to end inclusive.
func YearRoots(prefix string, start, end int) []string {
	var roots []string
	for y := start; y <= end; y++ {
		roots = append(roots, storage.Join(prefix, strconv.Itoa(y)))
	}
	return roots
}

// MonthPartitions returns "1" through "12".
func MonthPartitions() []string {
	parts := make([]string, 12)
	for m := 1; m <= 12; m++ {
		parts[m-1] = strconv.Itoa(m)
	}
	return parts
}

// BuildIndex lists every root × partition on every provider. A partition whose listing
// fails is treated as empty and reported as a listing ItemError. Only context
// cancellation aborts the build.
func BuildIndex(ctx context.Context, providers []storage.Provider, opts IndexOptions) (*Index, []ItemError, error) {
	if len(opts.Partitions) == 0 {
		opts.Partitions = MonthPartitions()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	log := logger.FromContext(ctx)
	idx := NewIndex()

	var (
		mu   sync.Mutex
		errs []ItemError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, p := range providers {
		for _, root := range opts.Roots {
			for _, part := range opts.Partitions {
				p, dir := p, storage.Join(root, part)
				g.Go(func() error {
					blobs, err := listPartition(gctx, p, dir, opts.PageSize)
					if err != nil {
						if ctxErr := gctx.Err(); ctxErr != nil {
							return ctxErr
						}
						log.Warn().
							Err(err).
							Str("provider", string(p.Kind())).
							Str("prefix", dir).
							Msg("Listing failed, treating partition as empty")
						mu.Lock()
						errs = append(errs, newItemError(ErrorKindListing, dir, string(p.Kind()), err))
						mu.Unlock()
						return nil
					}
					for _, b := range blobs {
						b.Name = storage.Join(dir, b.Name)
						idx.Add(p.Kind(), b)
					}
					return nil
				})
			}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, errs, fmt.Errorf("BuildIndex: %w", err)
	}

	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Provider != errs[j].Provider {
			return errs[i].Provider < errs[j].Provider
		}
		return errs[i].Target < errs[j].Target
	})

	log.Info().
		Int("blobs", idx.Len()).
		Int("listing_errors", len(errs)).
		Msg("Storage index built")

	return idx, errs, nil
}

// listPartition pages through one prefix until a page comes back shorter than pageSize.
func listPartition(ctx context.Context, p storage.Provider, dir string, pageSize int) ([]storage.Blob, error) {
	var (
		out    []storage.Blob
		offset int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := p.List(ctx, dir, pageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		offset += len(page)
	}
}
