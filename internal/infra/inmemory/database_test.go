package inmemory

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/statement-reconciler/internal/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileRef(id string) bigquery.NullString {
	return bigquery.NullString{StringVal: id, Valid: true}
}

func seed(t *testing.T) *Database {
	t.Helper()
	db := NewDatabase()
	db.PutFile(&bq.FileRow{FileID: "F1", StoragePath: "statements/2024/3/doc.pdf", StorageProvider: "gcs"})
	db.PutFile(&bq.FileRow{FileID: "F2", StoragePath: "statements/2024/3/other.pdf", StorageProvider: "s3"})
	db.PutStatement(&bq.StatementRow{StatementID: "S1", FileID: fileRef("F1")})
	db.PutStatement(&bq.StatementRow{StatementID: "S2", FileID: fileRef("F1")})
	db.PutStatement(&bq.StatementRow{StatementID: "S3", FileID: fileRef("F404")})
	db.PutStatement(&bq.StatementRow{StatementID: "S4"})
	db.PutTransaction(&bq.TransactionRow{TransactionID: "T1", StatementID: "S1"})
	db.PutTransaction(&bq.TransactionRow{TransactionID: "T2", StatementID: "S3"})
	db.PutTransaction(&bq.TransactionRow{TransactionID: "T3", StatementID: "S3"})
	return db
}

func TestDatabase_FindStatementPageJoinsFiles(t *testing.T) {
	ctx := context.Background()
	db := seed(t)

	page, err := db.FindStatementPage(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "S1", page[0].StatementID)
	require.NotNil(t, page[0].File)
	assert.Equal(t, "statements/2024/3/doc.pdf", page[0].File.StoragePath)
	assert.Nil(t, page[2].File, "dangling reference has no joined file")

	rest, err := db.FindStatementPage(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "S4", rest[0].StatementID)

	empty, err := db.FindStatementPage(ctx, 4, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 3, db.PageCalls())
}

func TestDatabase_CapPageSizeAndFailPages(t *testing.T) {
	ctx := context.Background()
	db := seed(t)
	db.CapPageSize(1)

	page, err := db.FindStatementPage(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	boom := errors.New("connection reset")
	db.FailPages(1, boom)
	_, err = db.FindStatementPage(ctx, 1, 10)
	assert.ErrorIs(t, err, boom)
}

func TestDatabase_ReferenceQueries(t *testing.T) {
	ctx := context.Background()
	db := seed(t)

	ids, err := db.ListReferencedFileIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"F1", "F404"}, ids)

	counts, err := db.CountStatementsByFileIDs(ctx, []string{"F1", "F2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"F1": 2}, counts)

	files, err := db.FindFiles(ctx, bq.FileFilter{StorageProvider: "s3"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "F2", files[0].FileID)

	files, err = db.FindFiles(ctx, bq.FileFilter{IDs: []string{"F1"}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "F1", files[0].FileID)
}

func TestDatabase_Deletes(t *testing.T) {
	ctx := context.Background()
	db := seed(t)

	n, err := db.CountTransactionsByStatementIDs(ctx, []string{"S3"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.DeleteTransactionsByStatementIDs(ctx, []string{"S3"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, db.TransactionsFor([]string{"S3"}))
	assert.Equal(t, 1, db.TransactionCount())

	n, err = db.DeleteStatements(ctx, []string{"S3", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"S1", "S2", "S4"}, db.StatementIDs())

	boom := errors.New("quota exceeded")
	db.FailDelete(OpDeleteFiles, boom)
	_, err = db.DeleteFiles(ctx, []string{"F2"})
	assert.ErrorIs(t, err, boom)

	db.FailDelete(OpDeleteFiles, nil)
	n, err = db.DeleteFiles(ctx, []string{"F2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"F1"}, db.FileIDs())
}
