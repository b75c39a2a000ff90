package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// CountTransactionsByStatementIDsWithClient counts the transactions belonging to the given statements.
func CountTransactionsByStatementIDsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, statementIDs []string) (int64, error) {
	if len(statementIDs) == 0 {
		return 0, nil
	}

	q := client.Query(fmt.Sprintf(`
		SELECT COUNT(*) AS n
		FROM %s
		WHERE statement_id IN UNNEST(@ids)
	`, ds.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: statementIDs},
	}

	n, err := readCount(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("CountTransactionsByStatementIDs: %w", err)
	}
	return n, nil
}
