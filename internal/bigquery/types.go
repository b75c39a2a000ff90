package bigquery

import (
	"context"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// StatementRepository provides statement-related database operations.
type StatementRepository interface {
	// CountStatements returns the total number of statement rows.
	CountStatements(ctx context.Context) (int64, error)

	// FindStatementPage returns up to limit statements ordered by statement_id, skipping
	// the first skip rows. Each statement carries its joined file row when file_id is set
	// and the file row exists.
	FindStatementPage(ctx context.Context, skip, limit int) ([]*StatementRow, error)

	// ListReferencedFileIDs returns the distinct non-null file_id values of all statements.
	ListReferencedFileIDs(ctx context.Context) ([]string, error)

	// CountStatementsByFileIDs returns, for each given file ID, how many statements reference it.
	CountStatementsByFileIDs(ctx context.Context, fileIDs []string) (map[string]int64, error)

	// DeleteStatements deletes the statements with the given IDs and returns the affected row count.
	DeleteStatements(ctx context.Context, statementIDs []string) (int64, error)
}

// FileRepository provides file-related database operations.
type FileRepository interface {
	// CountFiles returns the total number of file rows.
	CountFiles(ctx context.Context) (int64, error)

	// FindFiles returns the file rows matching filter.
	FindFiles(ctx context.Context, filter FileFilter) ([]*FileRow, error)

	// DeleteFiles deletes the files with the given IDs and returns the affected row count.
	DeleteFiles(ctx context.Context, fileIDs []string) (int64, error)
}

// TransactionRepository provides transaction-related database operations.
type TransactionRepository interface {
	// CountTransactionsByStatementIDs counts transactions whose statement_id is in statementIDs.
	CountTransactionsByStatementIDs(ctx context.Context, statementIDs []string) (int64, error)

	// DeleteTransactionsByStatementIDs deletes transactions whose statement_id is in statementIDs.
	DeleteTransactionsByStatementIDs(ctx context.Context, statementIDs []string) (int64, error)
}

// FileFilter narrows FindFiles. Zero values do not filter.
type FileFilter struct {
	// IDs restricts the result to these file IDs.
	IDs []string

	// StorageProvider restricts the result to one backend.
	StorageProvider string
}

// StatementRow represents a statement record in BigQuery.
type StatementRow struct {
	StatementID string `bigquery:"statement_id" json:"statement_id"`

	AccountName string `bigquery:"account_name" json:"account_name"`
	BankName    string `bigquery:"bank_name" json:"bank_name"`

	Month int64 `bigquery:"month" json:"month"`
	Year  int64 `bigquery:"year" json:"year"`

	FileID bigquery.NullString `bigquery:"file_id" json:"file_id"`

	Status string `bigquery:"status" json:"status"`

	CreatedTS time.Time `bigquery:"created_ts" json:"created_ts"`

	// File is populated by FindStatementPage from the files join. It is nil when
	// FileID is null or the referenced file row is missing.
	File *FileRow `bigquery:"-" json:"file,omitempty"`
}

// HasFileRef reports whether the statement references a file.
func (s *StatementRow) HasFileRef() bool {
	return s.FileID.Valid && s.FileID.StringVal != ""
}

// FileRow represents an uploaded file record in BigQuery; storage_path is the join key to a blob.
type FileRow struct {
	FileID string `bigquery:"file_id" json:"file_id"`

	OriginalName string `bigquery:"original_name" json:"original_name"`
	StoredName   string `bigquery:"stored_name" json:"stored_name"`

	StoragePath     string `bigquery:"storage_path" json:"storage_path"`
	StorageProvider string `bigquery:"storage_provider" json:"storage_provider"`

	MimeType  string `bigquery:"mime_type" json:"mime_type"`
	SizeBytes int64  `bigquery:"size_bytes" json:"size_bytes"`

	UploadedBy string    `bigquery:"uploaded_by" json:"uploaded_by"`
	UploadTS   time.Time `bigquery:"upload_ts" json:"upload_ts"`
}

// Direction values for TransactionRow.Direction.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// TransactionRow represents a parsed statement transaction in BigQuery.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id" json:"transaction_id"`
	StatementID   string `bigquery:"statement_id" json:"statement_id"`

	TransactionDate civil.Date `bigquery:"transaction_date" json:"transaction_date"`
	Description     string     `bigquery:"description" json:"description"`

	Amount    *big.Rat `bigquery:"amount" json:"amount"`
	Direction string   `bigquery:"direction" json:"direction"`
	Balance   *big.Rat `bigquery:"balance" json:"balance,omitempty"`

	CreatedTS time.Time `bigquery:"created_ts" json:"created_ts"`
}
