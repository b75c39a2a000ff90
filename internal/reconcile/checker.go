package reconcile

import (
	"context"
	"fmt"

	bq "github.com/dvloznov/statement-reconciler/internal/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/storage"
)

// Verdict is the classification of one statement.
type Verdict struct {
	Status   Status
	Reason   string
	Provider storage.Kind
	Path     string

	// Probed is set when the index missed and Exists was called.
	Probed bool

	// ProbeErr holds the inconclusive probe failure for StatusUnverified.
	ProbeErr error
}

// Checker classifies records against the index, probing storage when the index misses.
type Checker struct {
	registry *storage.Registry
}

// NewChecker creates a checker that routes probes through registry.
func NewChecker(registry *storage.Registry) *Checker {
	return &Checker{registry: registry}
}

// ClassifyStatement decides whether stmt still points at a stored blob.
//
// A null file reference or an unresolvable path is orphaned outright. An index hit is
// valid. On a miss the provider is asked directly: present means the index was stale,
// absent means the blob is gone, and any other error leaves the statement unverified.
func (c *Checker) ClassifyStatement(ctx context.Context, stmt *bq.StatementRow, idx *Index) Verdict {
	if !stmt.HasFileRef() {
		return Verdict{Status: StatusOrphaned, Reason: ReasonNoFileReference}
	}
	if stmt.File == nil || stmt.File.StoragePath == "" {
		return Verdict{Status: StatusOrphaned, Reason: ReasonNoPath}
	}

	kind := c.registry.Resolve(stmt.File.StorageProvider)
	v := Verdict{Provider: kind, Path: stmt.File.StoragePath}

	if idx.Contains(kind, v.Path) {
		v.Status = StatusValid
		return v
	}

	provider, ok := c.registry.Get(kind)
	if !ok {
		v.Status = StatusUnverified
		v.ProbeErr = fmt.Errorf("storage provider %q is not configured", kind)
		return v
	}

	v.Probed = true
	if err := ctx.Err(); err != nil {
		v.Status = StatusUnverified
		v.ProbeErr = err
		return v
	}
	exists, err := provider.Exists(ctx, v.Path)
	switch {
	case err != nil:
		v.Status = StatusUnverified
		v.ProbeErr = err
	case exists:
		v.Status = StatusValid
	default:
		v.Status = StatusOrphaned
		v.Reason = ReasonNotInStorage
	}
	return v
}

// ClassifyFile reports whether file is orphaned, that is, absent from referencedFileIDs.
func ClassifyFile(file *bq.FileRow, referencedFileIDs map[string]bool) bool {
	return !referencedFileIDs[file.FileID]
}

// ClassifyBlob reports whether path is orphaned, that is, absent from filePaths.
func ClassifyBlob(path string, filePaths map[string]bool) bool {
	return !filePaths[path]
}
