package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// Kind identifies a storage backend. FileRow.StorageProvider holds one of these values.
type Kind string

const (
	// KindGCS is Google Cloud Storage.
	KindGCS Kind = "gcs"
	// KindS3 is Amazon S3 or any S3-compatible service.
	KindS3 Kind = "s3"
)

var (
	// ErrNotFound is returned by Download and Delete when the object does not exist.
	ErrNotFound = errors.New("storage: object not found")

	// ErrProviderClosed is returned by every operation after Close.
	ErrProviderClosed = errors.New("storage: provider is closed")
)

// Blob describes one stored object as returned by List. It is never persisted.
type Blob struct {
	// Name is the object name relative to the listed prefix.
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Provider is the capability set the reconciliation engine needs from object storage.
// Both backends implement it so the engine never depends on a concrete client.
type Provider interface {
	// Kind reports which backend this provider talks to.
	Kind() Kind

	// List returns up to limit objects directly under prefix, skipping the first offset.
	// Objects in nested "directories" are not returned.
	List(ctx context.Context, prefix string, limit, offset int) ([]Blob, error)

	// Download returns the object bytes. ErrNotFound when the object is missing.
	Download(ctx context.Context, objectPath string) ([]byte, error)

	// Exists reports whether the object is present. It is the authoritative probe:
	// (false, nil) means the object is genuinely missing, an error means the answer is unknown.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Delete removes the object.
	Delete(ctx context.Context, objectPath string) error

	// Close releases the underlying client.
	Close() error
}

// Join builds an object path from segments, e.g. Join("statements/2024", "3", "doc.pdf").
func Join(parts ...string) string {
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// ListPrefix normalises a directory prefix to end with exactly one slash.
func ListPrefix(prefix string) string {
	p := strings.Trim(prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// ObjectName returns key relative to dir. It reports false for folder placeholders
// (dir itself or any key ending in "/") and for keys nested below dir, so those
// never take part in listing offsets.
func ObjectName(key, dir string) (string, bool) {
	if !strings.HasPrefix(key, dir) {
		return "", false
	}
	name := key[len(dir):]
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Window applies offset and limit to an already ordered slice of names.
func Window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
