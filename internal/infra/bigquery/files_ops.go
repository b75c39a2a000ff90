package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// fileQuery builds the SELECT for FindFiles along with its parameters.
func fileQuery(ds Dataset, filter FileFilter) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if len(filter.IDs) > 0 {
		where = append(where, "file_id IN UNNEST(@ids)")
		params = append(params, bigquery.QueryParameter{Name: "ids", Value: filter.IDs})
	}
	if filter.StorageProvider != "" {
		where = append(where, "storage_provider = @storage_provider")
		params = append(params, bigquery.QueryParameter{Name: "storage_provider", Value: filter.StorageProvider})
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`
		SELECT
			file_id,
			original_name,
			stored_name,
			storage_path,
			storage_provider,
			mime_type,
			size_bytes,
			uploaded_by,
			upload_ts
		FROM %s`, ds.table(filesTable)))
	if len(where) > 0 {
		sb.WriteString("\n\t\tWHERE ")
		sb.WriteString(strings.Join(where, "\n\t\t  AND "))
	}
	sb.WriteString("\n\t\tORDER BY file_id\n\t")

	return sb.String(), params
}

// FindFilesWithClient returns the file rows matching filter.
func FindFilesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, filter FileFilter) ([]*FileRow, error) {
	sql, params := fileQuery(ds, filter)
	q := client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindFiles: query read: %w", err)
	}

	var files []*FileRow
	for {
		var row FileRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FindFiles: iter next: %w", err)
		}
		files = append(files, &row)
	}

	return files, nil
}

// CountFilesWithClient returns the number of file rows.
func CountFilesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) (int64, error) {
	q := client.Query(fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s`, ds.table(filesTable)))

	n, err := readCount(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("CountFiles: %w", err)
	}
	return n, nil
}
