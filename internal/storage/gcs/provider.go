// Package gcs implements storage.Provider on top of Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	blob "github.com/dvloznov/statement-reconciler/internal/storage"
	"google.golang.org/api/iterator"
)

// Provider is the GCS-backed storage.Provider. It holds one shared client
// instead of creating a new connection for each operation.
type Provider struct {
	client *storage.Client
	bucket string

	mu     sync.RWMutex
	closed bool
}

// New wraps an existing client.
func New(client *storage.Client, bucket string) *Provider {
	return &Provider{client: client, bucket: bucket}
}

// NewFromBucket creates a client using Application Default Credentials
// (gcloud auth application-default login).
func NewFromBucket(ctx context.Context, bucket string) (*Provider, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewFromBucket: bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewFromBucket: create storage client: %w", err)
	}
	return New(client, bucket), nil
}

// Kind implements storage.Provider.
func (p *Provider) Kind() blob.Kind { return blob.KindGCS }

func (p *Provider) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return blob.ErrProviderClosed
	}
	return nil
}

// List implements storage.Provider. GCS has no offset parameter, so the first
// offset entries of the lexicographically ordered listing are skipped client-side.
// Every call iterates the prefix from its first object, which makes listing a
// directory page by page quadratic in its size. Folder placeholder objects are
// skipped before offset is counted.
func (p *Provider) List(ctx context.Context, prefix string, limit, offset int) ([]blob.Blob, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	dir := blob.ListPrefix(prefix)
	it := p.client.Bucket(p.bucket).Objects(ctx, &storage.Query{
		Prefix:    dir,
		Delimiter: "/",
	})

	var (
		out     []blob.Blob
		skipped int
	)
	for limit <= 0 || len(out) < limit {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List: iterating %s/%s: %w", p.bucket, dir, err)
		}
		// Synthetic directory entries carry only a Prefix.
		if attrs.Prefix != "" {
			continue
		}
		name, ok := blob.ObjectName(attrs.Name, dir)
		if !ok {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, blob.Blob{
			Name:         name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}

	return out, nil
}

// Download implements storage.Provider.
func (p *Provider) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	r, err := p.client.Bucket(p.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("Download: open object reader %s/%s: %w", p.bucket, objectPath, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Download: read object %s/%s: %w", p.bucket, objectPath, err)
	}

	return data, nil
}

// Exists implements storage.Provider with an attributes lookup so no bytes are transferred.
func (p *Provider) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := p.checkOpen(); err != nil {
		return false, err
	}

	_, err := p.client.Bucket(p.bucket).Object(objectPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("Exists: object attrs %s/%s: %w", p.bucket, objectPath, err)
	}
	return true, nil
}

// Delete implements storage.Provider.
func (p *Provider) Delete(ctx context.Context, objectPath string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	if err := p.client.Bucket(p.bucket).Object(objectPath).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return blob.ErrNotFound
		}
		return fmt.Errorf("Delete: %s/%s: %w", p.bucket, objectPath, err)
	}
	return nil
}

// Close closes the GCS client connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Ensure Provider implements storage.Provider.
var _ blob.Provider = (*Provider)(nil)
