// Package reconcile detects and repairs drift between blob storage and the statement,
// file and transaction tables.
//
// A run builds a best-effort index of stored blobs, pages through statements classifying
// each one against the index (falling back to an existence probe), finds file rows no
// statement references and blobs no file row references, and then either reports what it
// would delete (dry run) or deletes in dependency order: transactions, statements, files,
// blobs. Classification is recomputed from current state on every run, so repeating a run
// is safe.
package reconcile

import (
	"fmt"
	"strings"
	"time"
)

// State is a step of the run state machine:
// Idle → Indexing → Scanning → (DryRunComplete | Deleting → Complete), with Error
// reachable from Indexing and Scanning.
type State string

const (
	StateIdle           State = "idle"
	StateIndexing       State = "indexing"
	StateScanning       State = "scanning"
	StateDryRunComplete State = "dry_run_complete"
	StateDeleting       State = "deleting"
	StateComplete       State = "complete"
	StateError          State = "error"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDryRunComplete || s == StateComplete || s == StateError
}

// Scope selects which kinds of orphans a run cleans up.
type Scope string

const (
	// ScopeAll handles statements, file rows and blobs.
	ScopeAll Scope = "all"
	// ScopeStatementsOnly handles orphaned statements and their transactions.
	ScopeStatementsOnly Scope = "statementsOnly"
	// ScopeFilesOnly handles unreferenced file rows and blobs without scanning statements.
	ScopeFilesOnly Scope = "filesOnly"
)

// ParseScope accepts the canonical names case-insensitively, plus the
// kebab-case forms used on the command line.
func ParseScope(raw string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return ScopeAll, nil
	case "statementsonly", "statements-only", "statements":
		return ScopeStatementsOnly, nil
	case "filesonly", "files-only", "files":
		return ScopeFilesOnly, nil
	}
	return "", fmt.Errorf("%w: unknown cleanup scope %q", ErrInvalidOptions, raw)
}

func (s Scope) scansStatements() bool { return s == ScopeAll || s == ScopeStatementsOnly }
func (s Scope) scansFiles() bool      { return s == ScopeAll || s == ScopeFilesOnly }

// Status is the outcome of classifying one record.
type Status string

const (
	StatusValid    Status = "valid"
	StatusOrphaned Status = "orphaned"
	// StatusUnverified means the existence probe failed inconclusively. Unverified
	// records are never deleted.
	StatusUnverified Status = "unverified"
)

// Orphan reasons.
const (
	ReasonNoFileReference = "no file reference"
	ReasonNoPath          = "no path"
	ReasonNotInStorage    = "file not found in storage"
	ReasonUnreferenced    = "not referenced by any statement"
	ReasonNoFileRecord    = "no file record references this blob"
)

// OrphanKind names the collection an orphan belongs to.
type OrphanKind string

const (
	OrphanStatement OrphanKind = "statement"
	OrphanFile      OrphanKind = "file"
	OrphanBlob      OrphanKind = "blob"
)

// Orphan is one record or blob classified as orphaned.
type Orphan struct {
	Kind     OrphanKind `json:"kind"`
	ID       string     `json:"id,omitempty"`
	FileID   string     `json:"file_id,omitempty"`
	Path     string     `json:"path,omitempty"`
	Provider string     `json:"provider,omitempty"`
	Reason   string     `json:"reason"`
	Size     int64      `json:"size,omitempty"`
}

// Options are the per-run parameters.
type Options struct {
	BatchSize  int   `json:"batch_size"`
	DryRun     bool  `json:"dry_run"`
	Scope      Scope `json:"cleanup_scope"`
	MaxRecords int   `json:"max_records"`

	// DeleteUnreferencedBlobs also removes blobs that no file row references.
	DeleteUnreferencedBlobs bool `json:"delete_unreferenced_blobs"`
}

// DefaultBatchSize is used when Options.BatchSize is zero.
const DefaultBatchSize = 100

func (o Options) normalize() (Options, error) {
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize < 0 {
		return o, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidOptions, o.BatchSize)
	}
	if o.MaxRecords < 0 {
		return o, fmt.Errorf("%w: max records must not be negative, got %d", ErrInvalidOptions, o.MaxRecords)
	}
	scope, err := ParseScope(string(o.Scope))
	if err != nil {
		return o, err
	}
	o.Scope = scope
	return o, nil
}

// Progress is delivered to the WithProgress callback on every state change and
// after every scanned batch.
type Progress struct {
	RunID     string    `json:"run_id"`
	State     State     `json:"state"`
	Processed int       `json:"processed"`
	Total     int64     `json:"total"`
	Orphans   int       `json:"orphans"`
	At        time.Time `json:"at"`
}
