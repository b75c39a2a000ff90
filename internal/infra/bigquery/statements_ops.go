package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// statementJoinRow is one row of the statements LEFT JOIN files query. File columns
// are prefixed with f_ and nullable because the join may not match.
type statementJoinRow struct {
	StatementID string                 `bigquery:"statement_id"`
	AccountName bigquery.NullString    `bigquery:"account_name"`
	BankName    bigquery.NullString    `bigquery:"bank_name"`
	Month       bigquery.NullInt64     `bigquery:"month"`
	Year        bigquery.NullInt64     `bigquery:"year"`
	FileID      bigquery.NullString    `bigquery:"file_id"`
	Status      bigquery.NullString    `bigquery:"status"`
	CreatedTS   bigquery.NullTimestamp `bigquery:"created_ts"`

	FFileID          bigquery.NullString    `bigquery:"f_file_id"`
	FOriginalName    bigquery.NullString    `bigquery:"f_original_name"`
	FStoredName      bigquery.NullString    `bigquery:"f_stored_name"`
	FStoragePath     bigquery.NullString    `bigquery:"f_storage_path"`
	FStorageProvider bigquery.NullString    `bigquery:"f_storage_provider"`
	FMimeType        bigquery.NullString    `bigquery:"f_mime_type"`
	FSizeBytes       bigquery.NullInt64     `bigquery:"f_size_bytes"`
	FUploadedBy      bigquery.NullString    `bigquery:"f_uploaded_by"`
	FUploadTS        bigquery.NullTimestamp `bigquery:"f_upload_ts"`
}

// toStatement converts a join row into a StatementRow with its File attached when the join matched.
func (r *statementJoinRow) toStatement() *StatementRow {
	s := &StatementRow{
		StatementID: r.StatementID,
		AccountName: r.AccountName.StringVal,
		BankName:    r.BankName.StringVal,
		Month:       r.Month.Int64,
		Year:        r.Year.Int64,
		FileID:      r.FileID,
		Status:      r.Status.StringVal,
	}
	if r.CreatedTS.Valid {
		s.CreatedTS = r.CreatedTS.Timestamp
	}

	if r.FFileID.Valid {
		f := &FileRow{
			FileID:          r.FFileID.StringVal,
			OriginalName:    r.FOriginalName.StringVal,
			StoredName:      r.FStoredName.StringVal,
			StoragePath:     r.FStoragePath.StringVal,
			StorageProvider: r.FStorageProvider.StringVal,
			MimeType:        r.FMimeType.StringVal,
			SizeBytes:       r.FSizeBytes.Int64,
			UploadedBy:      r.FUploadedBy.StringVal,
		}
		if r.FUploadTS.Valid {
			f.UploadTS = r.FUploadTS.Timestamp
		}
		s.File = f
	}
	return s
}

// statementPageQuery returns the SQL for one page of statements joined with their files.
func statementPageQuery(ds Dataset) string {
	return fmt.Sprintf(`
		SELECT
			s.statement_id,
			s.account_name,
			s.bank_name,
			s.month,
			s.year,
			s.file_id,
			s.status,
			s.created_ts,
			f.file_id AS f_file_id,
			f.original_name AS f_original_name,
			f.stored_name AS f_stored_name,
			f.storage_path AS f_storage_path,
			f.storage_provider AS f_storage_provider,
			f.mime_type AS f_mime_type,
			f.size_bytes AS f_size_bytes,
			f.uploaded_by AS f_uploaded_by,
			f.upload_ts AS f_upload_ts
		FROM %s s
		LEFT JOIN %s f
		  ON s.file_id = f.file_id
		ORDER BY s.statement_id
		LIMIT @limit OFFSET @offset
	`, ds.table(statementsTable), ds.table(filesTable))
}

// FindStatementPageWithClient returns one page of statements ordered by statement_id.
func FindStatementPageWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, skip, limit int) ([]*StatementRow, error) {
	if limit <= 0 {
		return nil, nil
	}
	if skip < 0 {
		skip = 0
	}

	q := client.Query(statementPageQuery(ds))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
		{Name: "offset", Value: skip},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindStatementPage: query read: %w", err)
	}

	var rows []*StatementRow
	for {
		var r statementJoinRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FindStatementPage: iter next: %w", err)
		}
		rows = append(rows, r.toStatement())
	}

	return rows, nil
}

// CountStatementsWithClient returns the number of statement rows.
func CountStatementsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) (int64, error) {
	q := client.Query(fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s`, ds.table(statementsTable)))

	n, err := readCount(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("CountStatements: %w", err)
	}
	return n, nil
}

// ListReferencedFileIDsWithClient returns every distinct non-null file_id in statements.
func ListReferencedFileIDsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) ([]string, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT DISTINCT file_id
		FROM %s
		WHERE file_id IS NOT NULL
	`, ds.table(statementsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListReferencedFileIDs: query read: %w", err)
	}

	var ids []string
	for {
		var row struct {
			FileID string `bigquery:"file_id"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListReferencedFileIDs: iter next: %w", err)
		}
		ids = append(ids, row.FileID)
	}

	return ids, nil
}

// CountStatementsByFileIDsWithClient returns how many statements reference each given file.
// File IDs with no referencing statement are absent from the result.
func CountStatementsByFileIDsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, fileIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(fileIDs))
	if len(fileIDs) == 0 {
		return counts, nil
	}

	q := client.Query(fmt.Sprintf(`
		SELECT file_id, COUNT(*) AS n
		FROM %s
		WHERE file_id IN UNNEST(@ids)
		GROUP BY file_id
	`, ds.table(statementsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: fileIDs},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("CountStatementsByFileIDs: query read: %w", err)
	}

	for {
		var row struct {
			FileID string `bigquery:"file_id"`
			N      int64  `bigquery:"n"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CountStatementsByFileIDs: iter next: %w", err)
		}
		counts[row.FileID] = row.N
	}

	return counts, nil
}
