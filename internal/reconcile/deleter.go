package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	bq "github.com/dvloznov/statement-reconciler/internal/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/storage"
)

// DefaultDeleteChunkSize caps the number of IDs in one delete statement.
const DefaultDeleteChunkSize = 500

// DeleteCounts are the rows and blobs removed, or that would be removed in a dry run.
type DeleteCounts struct {
	Transactions int64 `json:"transactions"`
	Statements   int64 `json:"statements"`
	Files        int64 `json:"files"`
	Blobs        int64 `json:"blobs"`
}

// Total returns the sum of all counts.
func (c DeleteCounts) Total() int64 {
	return c.Transactions + c.Statements + c.Files + c.Blobs
}

// Plan lists what a run decided to remove.
type Plan struct {
	// StatementIDs are the orphaned statements.
	StatementIDs []string

	// StatementFileRefs counts, per file ID, how many orphaned statements reference it.
	// Such a file is removed only when no other statement references it.
	StatementFileRefs map[string]int

	// OrphanFileIDs are files no statement references.
	OrphanFileIDs []string
}

// BlobTarget is one blob to delete.
type BlobTarget struct {
	Provider storage.Kind
	Path     string
	Size     int64
}

// Deleter removes orphans in dependency order.
type Deleter struct {
	statements   bq.StatementRepository
	files        bq.FileRepository
	transactions bq.TransactionRepository
	registry     *storage.Registry
	chunkSize    int
}

// NewDeleter creates a deleter. chunkSize <= 0 selects DefaultDeleteChunkSize.
func NewDeleter(statements bq.StatementRepository, files bq.FileRepository, transactions bq.TransactionRepository, registry *storage.Registry, chunkSize int) *Deleter {
	if chunkSize <= 0 {
		chunkSize = DefaultDeleteChunkSize
	}
	return &Deleter{
		statements:   statements,
		files:        files,
		transactions: transactions,
		registry:     registry,
		chunkSize:    chunkSize,
	}
}

// DeleteResult is the outcome of Delete.
type DeleteResult struct {
	Counts DeleteCounts

	// Files are the file rows removed (or that would be removed). Their blobs are the
	// input to DeleteOrphanedBlobs.
	Files []*bq.FileRow

	Errors []ItemError
}

// Delete removes transactions of the orphaned statements, then the statements, then
// the files exclusively referenced by them together with independently orphaned
// files. Failures are recorded per chunk and never abort the remaining work. A chunk
// whose transactions could not be deleted keeps its statements. In a dry run nothing
// is mutated and the counts are what would have been deleted.
func (d *Deleter) Delete(ctx context.Context, plan Plan, dryRun bool) (DeleteResult, error) {
	log := logger.Component(logger.FromContext(ctx), "deleter")
	var res DeleteResult

	for _, chunk := range chunks(plan.StatementIDs, d.chunkSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		target := chunkTarget("statements", chunk)

		if dryRun {
			n, err := d.transactions.CountTransactionsByStatementIDs(ctx, chunk)
			if err != nil {
				res.Errors = append(res.Errors, newItemError(ErrorKindDelete, "transactions of "+target, "", err))
				continue
			}
			log.Info().Msgf("[DRY RUN] Would delete %d transactions and %d statements", n, len(chunk))
			res.Counts.Transactions += n
			res.Counts.Statements += int64(len(chunk))
			continue
		}

		n, err := d.transactions.DeleteTransactionsByStatementIDs(ctx, chunk)
		if err != nil {
			log.Error().Err(err).Str("target", target).Msg("Failed to delete transactions, keeping their statements")
			res.Errors = append(res.Errors, newItemError(ErrorKindDelete, "transactions of "+target, "", err))
			continue
		}
		res.Counts.Transactions += n

		m, err := d.statements.DeleteStatements(ctx, chunk)
		if err != nil {
			log.Error().Err(err).Str("target", target).Msg("Failed to delete statements")
			res.Errors = append(res.Errors, newItemError(ErrorKindDelete, target, "", err))
			continue
		}
		res.Counts.Statements += m
		if m < int64(len(chunk)) {
			log.Warn().Int64("deleted", m).Int("requested", len(chunk)).Msg("Some statements were already gone")
		}
		log.Info().Int64("transactions", n).Int64("statements", m).Msg("Deleted orphaned statements")
	}

	fileIDs, errs := d.deletableFiles(ctx, plan, dryRun)
	res.Errors = append(res.Errors, errs...)

	for _, chunk := range chunks(fileIDs, d.chunkSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		target := chunkTarget("files", chunk)

		rows, err := d.files.FindFiles(ctx, bq.FileFilter{IDs: chunk})
		if err != nil {
			res.Errors = append(res.Errors, newItemError(ErrorKindDelete, target, "", fmt.Errorf("load file rows: %w", err)))
			continue
		}
		if len(rows) == 0 {
			continue
		}

		if dryRun {
			for _, f := range rows {
				log.Info().Str("file_id", f.FileID).Str("path", f.StoragePath).Msg("[DRY RUN] Would delete file record")
			}
			res.Counts.Files += int64(len(rows))
			res.Files = append(res.Files, rows...)
			continue
		}

		ids := make([]string, len(rows))
		for i, f := range rows {
			ids[i] = f.FileID
		}
		n, err := d.files.DeleteFiles(ctx, ids)
		if err != nil {
			log.Error().Err(err).Str("target", target).Msg("Failed to delete file records")
			res.Errors = append(res.Errors, newItemError(ErrorKindDelete, target, "", err))
			continue
		}
		res.Counts.Files += n
		res.Files = append(res.Files, rows...)
		log.Info().Int64("files", n).Msg("Deleted orphaned file records")
	}

	return res, nil
}

// deletableFiles merges the independently orphaned files with the files referenced by
// orphaned statements that no surviving statement references.
func (d *Deleter) deletableFiles(ctx context.Context, plan Plan, dryRun bool) ([]string, []ItemError) {
	set := make(map[string]bool, len(plan.OrphanFileIDs)+len(plan.StatementFileRefs))
	for _, id := range plan.OrphanFileIDs {
		set[id] = true
	}

	var errs []ItemError
	if len(plan.StatementFileRefs) > 0 {
		candidates := make([]string, 0, len(plan.StatementFileRefs))
		for id := range plan.StatementFileRefs {
			candidates = append(candidates, id)
		}
		sort.Strings(candidates)

		for _, chunk := range chunks(candidates, d.chunkSize) {
			counts, err := d.statements.CountStatementsByFileIDs(ctx, chunk)
			if err != nil {
				errs = append(errs, newItemError(ErrorKindDelete, chunkTarget("files", chunk), "", fmt.Errorf("count references: %w", err)))
				continue
			}
			for _, id := range chunk {
				// After a real delete the orphaned statements are already gone.
				surviving := counts[id]
				if dryRun {
					surviving -= int64(plan.StatementFileRefs[id])
				}
				if surviving <= 0 {
					set[id] = true
				}
			}
		}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, errs
}

// DeleteOrphanedBlobs removes each target from its provider. A blob that is already
// gone is skipped. In a dry run each target is probed and counted only if present.
func (d *Deleter) DeleteOrphanedBlobs(ctx context.Context, targets []BlobTarget, dryRun bool) (int64, []ItemError) {
	log := logger.Component(logger.FromContext(ctx), "deleter")

	var (
		n    int64
		errs []ItemError
	)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, newItemError(ErrorKindPartialDelete, t.Path, string(t.Provider), err))
			break
		}

		provider, ok := d.registry.Get(t.Provider)
		if !ok {
			errs = append(errs, newItemError(ErrorKindPartialDelete, t.Path, string(t.Provider),
				fmt.Errorf("storage provider %q is not configured", t.Provider)))
			continue
		}

		if dryRun {
			exists, err := provider.Exists(ctx, t.Path)
			if err != nil {
				errs = append(errs, newItemError(ErrorKindProbe, t.Path, string(t.Provider), err))
				continue
			}
			if exists {
				log.Info().Str("provider", string(t.Provider)).Str("path", t.Path).Msg("[DRY RUN] Would delete blob")
				n++
			}
			continue
		}

		if err := provider.Delete(ctx, t.Path); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Debug().Str("path", t.Path).Msg("Blob already gone")
				continue
			}
			log.Error().Err(err).Str("provider", string(t.Provider)).Str("path", t.Path).Msg("Failed to delete blob")
			errs = append(errs, newItemError(ErrorKindPartialDelete, t.Path, string(t.Provider), err))
			continue
		}
		log.Info().Str("provider", string(t.Provider)).Str("path", t.Path).Msg("Deleted blob")
		n++
	}
	return n, errs
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func chunkTarget(what string, chunk []string) string {
	if len(chunk) == 1 {
		return fmt.Sprintf("%s %s", what, chunk[0])
	}
	return fmt.Sprintf("%d %s starting at %s", len(chunk), what, chunk[0])
}
