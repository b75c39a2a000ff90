// Package inmemory implements the statement, file and transaction repositories in memory.
// It is safe for concurrent use and backs tests and local dry runs. Data is lost on exit.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	bq "github.com/dvloznov/statement-reconciler/internal/bigquery"
)

// Database holds statements, files and transactions and implements
// StatementRepository, FileRepository and TransactionRepository.
type Database struct {
	mu           sync.RWMutex
	statements   map[string]*bq.StatementRow
	files        map[string]*bq.FileRow
	transactions map[string]*bq.TransactionRow

	// Failure injection.
	pageErr      error
	pageErrAfter int
	pageCap      int
	deleteErrs   map[string]error

	pageCalls int
}

// Operation names accepted by FailDelete.
const (
	OpDeleteStatements   = "statements"
	OpDeleteFiles        = "files"
	OpDeleteTransactions = "transactions"
)

// NewDatabase creates an empty in-memory database.
func NewDatabase() *Database {
	return &Database{
		statements:   make(map[string]*bq.StatementRow),
		files:        make(map[string]*bq.FileRow),
		transactions: make(map[string]*bq.TransactionRow),
		deleteErrs:   make(map[string]error),
	}
}

// PutStatement inserts or replaces a statement. Its File field is ignored; the join is
// resolved on read.
func (d *Database) PutStatement(row *bq.StatementRow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *row
	c.File = nil
	d.statements[row.StatementID] = &c
}

// PutFile inserts or replaces a file.
func (d *Database) PutFile(row *bq.FileRow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *row
	d.files[row.FileID] = &c
}

// PutTransaction inserts or replaces a transaction.
func (d *Database) PutTransaction(row *bq.TransactionRow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *row
	d.transactions[row.TransactionID] = &c
}

// FailPages makes FindStatementPage return err on every call after the first `after` calls.
func (d *Database) FailPages(after int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pageErrAfter = after
	d.pageErr = err
}

// CapPageSize makes FindStatementPage return at most n rows regardless of limit.
func (d *Database) CapPageSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pageCap = n
}

// FailDelete makes the delete operation op (OpDeleteStatements, OpDeleteFiles or
// OpDeleteTransactions) return err. A nil err clears the failure.
func (d *Database) FailDelete(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.deleteErrs, op)
		return
	}
	d.deleteErrs[op] = err
}

// PageCalls returns how many times FindStatementPage was called.
func (d *Database) PageCalls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pageCalls
}

// StatementIDs returns the sorted IDs of all stored statements.
func (d *Database) StatementIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.statements)
}

// FileIDs returns the sorted IDs of all stored files.
func (d *Database) FileIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.files)
}

// TransactionCount returns the number of stored transactions.
func (d *Database) TransactionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.transactions)
}

// TransactionsFor returns the transactions whose statement is in statementIDs.
func (d *Database) TransactionsFor(statementIDs []string) []*bq.TransactionRow {
	set := toSet(statementIDs)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*bq.TransactionRow
	for _, id := range sortedKeys(d.transactions) {
		t := d.transactions[id]
		if set[t.StatementID] {
			c := *t
			out = append(out, &c)
		}
	}
	return out
}

// CountStatements implements bq.StatementRepository.
func (d *Database) CountStatements(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.statements)), nil
}

// FindStatementPage implements bq.StatementRepository.
func (d *Database) FindStatementPage(ctx context.Context, skip, limit int) ([]*bq.StatementRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pageCalls++
	if d.pageErr != nil && d.pageCalls > d.pageErrAfter {
		return nil, fmt.Errorf("FindStatementPage: %w", d.pageErr)
	}
	if d.pageCap > 0 && limit > d.pageCap {
		limit = d.pageCap
	}

	ids := sortedKeys(d.statements)
	if skip < 0 {
		skip = 0
	}
	if skip >= len(ids) || limit <= 0 {
		return []*bq.StatementRow{}, nil
	}
	end := skip + limit
	if end > len(ids) {
		end = len(ids)
	}

	out := make([]*bq.StatementRow, 0, end-skip)
	for _, id := range ids[skip:end] {
		s := *d.statements[id]
		if s.HasFileRef() {
			if f, ok := d.files[s.FileID.StringVal]; ok {
				fc := *f
				s.File = &fc
			}
		}
		out = append(out, &s)
	}
	return out, nil
}

// ListReferencedFileIDs implements bq.StatementRepository.
func (d *Database) ListReferencedFileIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	for _, s := range d.statements {
		if s.HasFileRef() {
			seen[s.FileID.StringVal] = true
		}
	}
	return sortedKeys(seen), nil
}

// CountStatementsByFileIDs implements bq.StatementRepository.
func (d *Database) CountStatementsByFileIDs(ctx context.Context, fileIDs []string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := toSet(fileIDs)

	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[string]int64, len(fileIDs))
	for _, s := range d.statements {
		if s.HasFileRef() && want[s.FileID.StringVal] {
			counts[s.FileID.StringVal]++
		}
	}
	return counts, nil
}

// DeleteStatements implements bq.StatementRepository.
func (d *Database) DeleteStatements(ctx context.Context, statementIDs []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.deleteErrs[OpDeleteStatements]; err != nil {
		return 0, fmt.Errorf("DeleteStatements: %w", err)
	}
	return deleteKeys(d.statements, statementIDs), nil
}

// CountFiles implements bq.FileRepository.
func (d *Database) CountFiles(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.files)), nil
}

// FindFiles implements bq.FileRepository.
func (d *Database) FindFiles(ctx context.Context, filter bq.FileFilter) ([]*bq.FileRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := toSet(filter.IDs)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*bq.FileRow
	for _, id := range sortedKeys(d.files) {
		f := d.files[id]
		if len(filter.IDs) > 0 && !ids[id] {
			continue
		}
		if filter.StorageProvider != "" && f.StorageProvider != filter.StorageProvider {
			continue
		}
		c := *f
		out = append(out, &c)
	}
	return out, nil
}

// DeleteFiles implements bq.FileRepository.
func (d *Database) DeleteFiles(ctx context.Context, fileIDs []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.deleteErrs[OpDeleteFiles]; err != nil {
		return 0, fmt.Errorf("DeleteFiles: %w", err)
	}
	return deleteKeys(d.files, fileIDs), nil
}

// CountTransactionsByStatementIDs implements bq.TransactionRepository.
func (d *Database) CountTransactionsByStatementIDs(ctx context.Context, statementIDs []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	set := toSet(statementIDs)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int64
	for _, t := range d.transactions {
		if set[t.StatementID] {
			n++
		}
	}
	return n, nil
}

// DeleteTransactionsByStatementIDs implements bq.TransactionRepository.
func (d *Database) DeleteTransactionsByStatementIDs(ctx context.Context, statementIDs []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	set := toSet(statementIDs)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.deleteErrs[OpDeleteTransactions]; err != nil {
		return 0, fmt.Errorf("DeleteTransactionsByStatementIDs: %w", err)
	}

	var n int64
	for id, t := range d.transactions {
		if set[t.StatementID] {
			delete(d.transactions, id)
			n++
		}
	}
	return n, nil
}

func deleteKeys[V any](m map[string]V, ids []string) int64 {
	var n int64
	for _, id := range ids {
		if _, ok := m[id]; ok {
			delete(m, id)
			n++
		}
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Ensure Database implements the repository interfaces.
var (
	_ bq.StatementRepository   = (*Database)(nil)
	_ bq.FileRepository        = (*Database)(nil)
	_ bq.TransactionRepository = (*Database)(nil)
)
