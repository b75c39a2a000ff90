package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/statement-reconciler/internal/infra/inmemory"
	"github.com/dvloznov/statement-reconciler/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) deleter() *Deleter {
	return NewDeleter(f.db, f.db, f.db, f.registry, 2)
}

func TestDeleter_CascadeOrder(t *testing.T) {
	ctx := context.Background()
	f := seedDrift(t)

	res, err := f.deleter().Delete(ctx, Plan{
		StatementIDs:      []string{"S2", "S5"},
		StatementFileRefs: map[string]int{"F2": 1},
		OrphanFileIDs:     []string{"F3"},
	}, false)

	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, DeleteCounts{Transactions: 7, Statements: 2, Files: 2}, res.Counts)
	assert.Equal(t, []string{"S1"}, f.db.StatementIDs())
	assert.Equal(t, []string{"F1"}, f.db.FileIDs())
	assert.Empty(t, f.db.TransactionsFor([]string{"S2", "S5"}))
	assert.Len(t, res.Files, 2)
}

func TestDeleter_DryRunMutatesNothing(t *testing.T) {
	ctx := context.Background()
	f := seedDrift(t)

	res, err := f.deleter().Delete(ctx, Plan{
		StatementIDs:      []string{"S2", "S5"},
		StatementFileRefs: map[string]int{"F2": 1},
		OrphanFileIDs:     []string{"F3"},
	}, true)

	require.NoError(t, err)
	assert.Equal(t, DeleteCounts{Transactions: 7, Statements: 2, Files: 2}, res.Counts)
	assert.Equal(t, []string{"S1", "S2", "S5"}, f.db.StatementIDs())
	assert.Equal(t, []string{"F1", "F2", "F3"}, f.db.FileIDs())
	assert.Equal(t, 9, f.db.TransactionCount())
}

func TestDeleter_TransactionFailureKeepsStatements(t *testing.T) {
	ctx := context.Background()
	f := seedDrift(t)
	f.db.FailDelete(inmemory.OpDeleteTransactions, errors.New("deadline exceeded"))

	res, err := f.deleter().Delete(ctx, Plan{
		StatementIDs:      []string{"S2", "S5"},
		StatementFileRefs: map[string]int{"F2": 1},
	}, false)

	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrorKindDelete, res.Errors[0].Kind)
	assert.Zero(t, res.Counts.Statements)
	assert.Equal(t, []string{"S1", "S2", "S5"}, f.db.StatementIDs())
	assert.Equal(t, 9, f.db.TransactionCount())
	// S2 survives, so F2 is still referenced and must stay.
	assert.Contains(t, f.db.FileIDs(), "F2")
}

func TestDeleter_SharedFileIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.file("F1", "gcs", "statements/2024/3/shared.pdf", true)
	f.statement("S1", "F1", 1)
	f.statement("S2", "F1", 1)

	for _, dryRun := range []bool{true, false} {
		res, err := f.deleter().Delete(ctx, Plan{
			StatementIDs:      []string{"S2"},
			StatementFileRefs: map[string]int{"F1": 1},
		}, dryRun)
		require.NoError(t, err)
		assert.Zero(t, res.Counts.Files, "dryRun=%v", dryRun)
	}
	assert.Equal(t, []string{"F1"}, f.db.FileIDs())
	assert.Equal(t, []string{"S1"}, f.db.StatementIDs())
}

func TestDeleter_ChunksLargePlans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ids []string
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		f.statement(id, "", 2)
		ids = append(ids, id)
	}

	res, err := f.deleter().Delete(ctx, Plan{StatementIDs: ids}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Counts.Statements)
	assert.Equal(t, int64(10), res.Counts.Transactions)
	assert.Empty(t, f.db.StatementIDs())
}

func TestDeleter_DeleteOrphanedBlobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gcs.Put("statements/2024/1/a.pdf", nil)
	f.gcs.Put("statements/2024/1/locked.pdf", nil)
	f.s3.Put("statements/2024/1/b.pdf", nil)
	f.gcs.FailDelete("statements/2024/1/locked.pdf", errors.New("retention policy"))

	targets := []BlobTarget{
		{Provider: storage.KindGCS, Path: "statements/2024/1/a.pdf"},
		{Provider: storage.KindGCS, Path: "statements/2024/1/locked.pdf"},
		{Provider: storage.KindGCS, Path: "statements/2024/1/gone.pdf"},
		{Provider: storage.KindS3, Path: "statements/2024/1/b.pdf"},
		{Provider: "azure", Path: "statements/2024/1/c.pdf"},
	}

	n, errs := f.deleter().DeleteOrphanedBlobs(ctx, targets, true)
	assert.Equal(t, int64(3), n)
	require.Len(t, errs, 1)
	assert.Equal(t, 3, f.gcs.Len()+f.s3.Len(), "dry run deletes nothing")

	n, errs = f.deleter().DeleteOrphanedBlobs(ctx, targets, false)
	assert.Equal(t, int64(2), n)
	require.Len(t, errs, 2)
	assert.Equal(t, ErrorKindPartialDelete, errs[0].Kind)
	assert.Equal(t, "statements/2024/1/locked.pdf", errs[0].Target)
	assert.Equal(t, "azure", errs[1].Provider)
	assert.True(t, f.gcs.Has("statements/2024/1/locked.pdf"))
	assert.False(t, f.gcs.Has("statements/2024/1/a.pdf"))
	assert.False(t, f.s3.Has("statements/2024/1/b.pdf"))
}
