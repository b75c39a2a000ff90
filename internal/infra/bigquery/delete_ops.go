package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	return affectedRows(status), nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}

type countRow struct {
	N int64 `bigquery:"n"`
}

// readCount runs a query selecting a single `n` column.
func readCount(ctx context.Context, q *bigquery.Query) (int64, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("query read: %w", err)
	}

	var row countRow
	err = it.Next(&row)
	if err == iterator.Done {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("iter next: %w", err)
	}
	return row.N, nil
}

// deleteByIDs deletes rows of table whose column value is in ids.
func deleteByIDs(ctx context.Context, client *bigquery.Client, ds Dataset, table, column string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	q := client.Query(fmt.Sprintf(`
		DELETE FROM %s
		WHERE %s IN UNNEST(@ids)
	`, ds.table(table), column))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
	}

	return runDML(ctx, q)
}

// DeleteStatementsWithClient deletes the statements with the given IDs.
func DeleteStatementsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, statementIDs []string) (int64, error) {
	n, err := deleteByIDs(ctx, client, ds, statementsTable, "statement_id", statementIDs)
	if err != nil {
		return 0, fmt.Errorf("DeleteStatements: %w", err)
	}
	return n, nil
}

// DeleteFilesWithClient deletes the files with the given IDs.
func DeleteFilesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, fileIDs []string) (int64, error) {
	n, err := deleteByIDs(ctx, client, ds, filesTable, "file_id", fileIDs)
	if err != nil {
		return 0, fmt.Errorf("DeleteFiles: %w", err)
	}
	return n, nil
}

// DeleteTransactionsByStatementIDsWithClient deletes every transaction belonging to the given statements.
func DeleteTransactionsByStatementIDsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, statementIDs []string) (int64, error) {
	n, err := deleteByIDs(ctx, client, ds, transactionsTable, "statement_id", statementIDs)
	if err != nil {
		return 0, fmt.Errorf("DeleteTransactionsByStatementIDs: %w", err)
	}
	return n, nil
}
