package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/statement-reconciler/internal/bigquery"
)

// Re-export row types and interfaces from the shared package.
type (
	StatementRepository   = bq.StatementRepository
	FileRepository        = bq.FileRepository
	TransactionRepository = bq.TransactionRepository

	StatementRow   = bq.StatementRow
	FileRow        = bq.FileRow
	TransactionRow = bq.TransactionRow
	FileFilter     = bq.FileFilter
)

// Table names inside the dataset.
const (
	statementsTable   = "statements"
	filesTable        = "files"
	transactionsTable = "transactions"
)

// Dataset identifies the BigQuery project and dataset holding the metadata tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// table returns the backtick-quoted, fully qualified table name.
func (d Dataset) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.ProjectID, d.DatasetID, name)
}

// Repositories bundles the statement, file and transaction repositories around one
// shared BigQuery client.
type Repositories struct {
	client *bigquery.Client

	Statements   *BigQueryStatementRepository
	Files        *BigQueryFileRepository
	Transactions *BigQueryTransactionRepository
}

// NewRepositories creates a BigQuery client for ds.ProjectID and the three repositories using it.
func NewRepositories(ctx context.Context, ds Dataset) (*Repositories, error) {
	if ds.ProjectID == "" || ds.DatasetID == "" {
		return nil, fmt.Errorf("NewRepositories: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepositories: creating client: %w", err)
	}
	return NewRepositoriesWithClient(client, ds), nil
}

// NewRepositoriesWithClient wires the repositories around an existing client.
func NewRepositoriesWithClient(client *bigquery.Client, ds Dataset) *Repositories {
	return &Repositories{
		client:       client,
		Statements:   &BigQueryStatementRepository{client: client, ds: ds},
		Files:        &BigQueryFileRepository{client: client, ds: ds},
		Transactions: &BigQueryTransactionRepository{client: client, ds: ds},
	}
}

// Close closes the BigQuery client connection. This should be called when
// the repositories are no longer needed to release resources.
func (r *Repositories) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// BigQueryStatementRepository is the concrete implementation of StatementRepository
// that interacts with BigQuery.
type BigQueryStatementRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// CountStatements delegates to CountStatementsWithClient with the shared client.
func (r *BigQueryStatementRepository) CountStatements(ctx context.Context) (int64, error) {
	return CountStatementsWithClient(ctx, r.client, r.ds)
}

// FindStatementPage delegates to FindStatementPageWithClient with the shared client.
func (r *BigQueryStatementRepository) FindStatementPage(ctx context.Context, skip, limit int) ([]*StatementRow, error) {
	return FindStatementPageWithClient(ctx, r.client, r.ds, skip, limit)
}

// ListReferencedFileIDs delegates to ListReferencedFileIDsWithClient with the shared client.
func (r *BigQueryStatementRepository) ListReferencedFileIDs(ctx context.Context) ([]string, error) {
	return ListReferencedFileIDsWithClient(ctx, r.client, r.ds)
}

// CountStatementsByFileIDs delegates to CountStatementsByFileIDsWithClient with the shared client.
func (r *BigQueryStatementRepository) CountStatementsByFileIDs(ctx context.Context, fileIDs []string) (map[string]int64, error) {
	return CountStatementsByFileIDsWithClient(ctx, r.client, r.ds, fileIDs)
}

// DeleteStatements delegates to DeleteStatementsWithClient with the shared client.
func (r *BigQueryStatementRepository) DeleteStatements(ctx context.Context, statementIDs []string) (int64, error) {
	return DeleteStatementsWithClient(ctx, r.client, r.ds, statementIDs)
}

// BigQueryFileRepository is the concrete implementation of FileRepository.
type BigQueryFileRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// CountFiles delegates to CountFilesWithClient with the shared client.
func (r *BigQueryFileRepository) CountFiles(ctx context.Context) (int64, error) {
	return CountFilesWithClient(ctx, r.client, r.ds)
}

// FindFiles delegates to FindFilesWithClient with the shared client.
func (r *BigQueryFileRepository) FindFiles(ctx context.Context, filter FileFilter) ([]*FileRow, error) {
	return FindFilesWithClient(ctx, r.client, r.ds, filter)
}

// DeleteFiles delegates to DeleteFilesWithClient with the shared client.
func (r *BigQueryFileRepository) DeleteFiles(ctx context.Context, fileIDs []string) (int64, error) {
	return DeleteFilesWithClient(ctx, r.client, r.ds, fileIDs)
}

// BigQueryTransactionRepository is the concrete implementation of TransactionRepository.
type BigQueryTransactionRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// CountTransactionsByStatementIDs delegates to CountTransactionsByStatementIDsWithClient.
func (r *BigQueryTransactionRepository) CountTransactionsByStatementIDs(ctx context.Context, statementIDs []string) (int64, error) {
	return CountTransactionsByStatementIDsWithClient(ctx, r.client, r.ds, statementIDs)
}

// DeleteTransactionsByStatementIDs delegates to DeleteTransactionsByStatementIDsWithClient.
func (r *BigQueryTransactionRepository) DeleteTransactionsByStatementIDs(ctx context.Context, statementIDs []string) (int64, error) {
	return DeleteTransactionsByStatementIDsWithClient(ctx, r.client, r.ds, statementIDs)
}

// Ensure the repositories implement the shared interfaces.
var (
	_ StatementRepository   = (*BigQueryStatementRepository)(nil)
	_ FileRepository        = (*BigQueryFileRepository)(nil)
	_ TransactionRepository = (*BigQueryTransactionRepository)(nil)
)
