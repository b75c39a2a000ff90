package reconcile

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	bq "github.com/dvloznov/statement-reconciler/internal/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/infra/inmemory"
	"github.com/dvloznov/statement-reconciler/internal/storage"
	"github.com/dvloznov/statement-reconciler/internal/storage/memory"
)

var fixedNow = time.Date(2024, 11, 5, 9, 30, 0, 0, time.UTC)

type fixture struct {
	db       *inmemory.Database
	gcs      *memory.Provider
	s3       *memory.Provider
	registry *storage.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gcs := memory.New(storage.KindGCS)
	s3 := memory.New(storage.KindS3)
	return &fixture{
		db:       inmemory.NewDatabase(),
		gcs:      gcs,
		s3:       s3,
		registry: storage.NewRegistry(gcs, s3),
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(Dependencies{
		Statements:   f.db,
		Files:        f.db,
		Transactions: f.db,
		Registry:     f.registry,
	}, Config{
		Prefix:           "statements",
		StartYear:        2024,
		ListPageSize:     2,
		ProbeConcurrency: 4,
		DeleteChunkSize:  2,
	}, opts...)
}

func (f *fixture) file(id, provider, path string, stored bool) {
	f.db.PutFile(&bq.FileRow{
		FileID:          id,
		OriginalName:    id + ".pdf",
		StoredName:      id + ".pdf",
		StoragePath:     path,
		StorageProvider: provider,
		MimeType:        "application/pdf",
		SizeBytes:       1024,
		UploadedBy:      "ops@example.com",
		UploadTS:        fixedNow,
	})
	if stored {
		f.blob(provider, path)
	}
}

func (f *fixture) blob(provider, path string) {
	switch storage.Kind(provider) {
	case storage.KindS3:
		f.s3.Put(path, []byte("%PDF"))
	default:
		f.gcs.Put(path, []byte("%PDF"))
	}
}

func (f *fixture) statement(id, fileID string, txns int) {
	row := &bq.StatementRow{
		StatementID: id,
		AccountName: "Current",
		BankName:    "Barclays",
		Month:       3,
		Year:        2024,
		Status:      "parsed",
		CreatedTS:   fixedNow,
	}
	if fileID != "" {
		row.FileID = bigquery.NullString{StringVal: fileID, Valid: true}
	}
	f.db.PutStatement(row)

	for i := 0; i < txns; i++ {
		f.db.PutTransaction(&bq.TransactionRow{
			TransactionID:   fmt.Sprintf("%s-T%d", id, i),
			StatementID:     id,
			TransactionDate: civil.Date{Year: 2024, Month: time.March, Day: i + 1},
			Description:     "card payment",
			Amount:          big.NewRat(-1250, 100),
			Direction:       bq.DirectionDebit,
			Balance:         big.NewRat(100000, 100),
			CreatedTS:       fixedNow,
		})
	}
}

// seedDrift builds the canonical drift fixture:
//   - S1 → F1 → statements/2024/3/doc.pdf, stored (valid, 2 transactions)
//   - S2 → F2 → statements/2024/3/missing.pdf, not stored (orphaned, 4 transactions)
//   - S5 has no file reference (orphaned, 3 transactions)
//   - F3 → statements/2024/5/unreferenced.pdf, stored, referenced by nothing
func seedDrift(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.file("F1", "gcs", "statements/2024/3/doc.pdf", true)
	f.file("F2", "gcs", "statements/2024/3/missing.pdf", false)
	f.file("F3", "gcs", "statements/2024/5/unreferenced.pdf", true)
	f.statement("S1", "F1", 2)
	f.statement("S2", "F2", 4)
	f.statement("S5", "", 3)
	return f
}
