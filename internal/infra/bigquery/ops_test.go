package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDataset = Dataset{ProjectID: "proj", DatasetID: "portal"}

func TestDatasetTable(t *testing.T) {
	assert.Equal(t, "`proj.portal.statements`", testDataset.table(statementsTable))
}

func TestStatementJoinRow_ToStatement(t *testing.T) {
	uploaded := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("matched join attaches file", func(t *testing.T) {
		r := statementJoinRow{
			StatementID:      "S1",
			AccountName:      bigquery.NullString{StringVal: "Current", Valid: true},
			Month:            bigquery.NullInt64{Int64: 3, Valid: true},
			Year:             bigquery.NullInt64{Int64: 2024, Valid: true},
			FileID:           bigquery.NullString{StringVal: "F1", Valid: true},
			FFileID:          bigquery.NullString{StringVal: "F1", Valid: true},
			FStoragePath:     bigquery.NullString{StringVal: "statements/2024/3/doc.pdf", Valid: true},
			FStorageProvider: bigquery.NullString{StringVal: "s3", Valid: true},
			FUploadTS:        bigquery.NullTimestamp{Timestamp: uploaded, Valid: true},
		}

		s := r.toStatement()
		require.NotNil(t, s.File)
		assert.True(t, s.HasFileRef())
		assert.Equal(t, "Current", s.AccountName)
		assert.Equal(t, int64(3), s.Month)
		assert.Equal(t, "statements/2024/3/doc.pdf", s.File.StoragePath)
		assert.Equal(t, "s3", s.File.StorageProvider)
		assert.Equal(t, uploaded, s.File.UploadTS)
	})

	t.Run("dangling file reference leaves file nil", func(t *testing.T) {
		r := statementJoinRow{
			StatementID: "S2",
			FileID:      bigquery.NullString{StringVal: "F404", Valid: true},
		}
		s := r.toStatement()
		assert.True(t, s.HasFileRef())
		assert.Nil(t, s.File)
	})

	t.Run("null file reference", func(t *testing.T) {
		s := (&statementJoinRow{StatementID: "S3"}).toStatement()
		assert.False(t, s.HasFileRef())
		assert.Nil(t, s.File)
	})
}

func TestFileQuery(t *testing.T) {
	sql, params := fileQuery(testDataset, FileFilter{})
	assert.NotContains(t, sql, "WHERE")
	assert.Empty(t, params)

	sql, params = fileQuery(testDataset, FileFilter{IDs: []string{"a", "b"}, StorageProvider: "gcs"})
	assert.Contains(t, sql, "file_id IN UNNEST(@ids)")
	assert.Contains(t, sql, "storage_provider = @storage_provider")
	assert.Equal(t, 1, strings.Count(sql, "WHERE"))
	require.Len(t, params, 2)
	assert.Equal(t, "ids", params[0].Name)
	assert.Equal(t, []string{"a", "b"}, params[0].Value)
	assert.Equal(t, "gcs", params[1].Value)
}

func TestStatementPageQuery(t *testing.T) {
	sql := statementPageQuery(testDataset)
	assert.Contains(t, sql, "LEFT JOIN `proj.portal.files` f")
	assert.Contains(t, sql, "ORDER BY s.statement_id")
	assert.Contains(t, sql, "LIMIT @limit OFFSET @offset")
}

func TestAffectedRows(t *testing.T) {
	assert.Equal(t, int64(0), affectedRows(nil))
	assert.Equal(t, int64(0), affectedRows(&bigquery.JobStatus{}))

	status := &bigquery.JobStatus{
		Statistics: &bigquery.JobStatistics{
			Details: &bigquery.QueryStatistics{NumDMLAffectedRows: 7},
		},
	}
	assert.Equal(t, int64(7), affectedRows(status))
}
