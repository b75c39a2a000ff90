package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/statement-reconciler/internal/storage"
	"github.com/dvloznov/statement-reconciler/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYearRootsAndMonthPartitions(t *testing.T) {
	assert.Equal(t, []string{"statements/2022", "statements/2023", "statements/2024"}, YearRoots("statements/", 2022, 2024))
	parts := MonthPartitions()
	require.Len(t, parts, 12)
	assert.Equal(t, "1", parts[0])
	assert.Equal(t, "12", parts[11])
}

func TestBuildIndex_PagesEveryPartition(t *testing.T) {
	gcs := memory.New(storage.KindGCS)
	for _, p := range []string{
		"statements/2024/3/a.pdf",
		"statements/2024/3/b.pdf",
		"statements/2024/3/c.pdf",
		"statements/2024/3/d.pdf",
		"statements/2024/12/z.pdf",
		"elsewhere/2024/3/ignored.pdf",
	} {
		gcs.Put(p, nil)
	}
	s3 := memory.New(storage.KindS3)
	s3.Put("statements/2024/3/a.pdf", nil)

	idx, errs, err := BuildIndex(context.Background(), []storage.Provider{gcs, s3}, IndexOptions{
		Roots:       []string{"statements/2024"},
		PageSize:    2,
		Concurrency: 3,
	})

	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, 6, idx.Len())
	assert.True(t, idx.Contains(storage.KindGCS, "statements/2024/3/d.pdf"))
	assert.True(t, idx.Contains(storage.KindGCS, "statements/2024/12/z.pdf"))
	assert.True(t, idx.Contains(storage.KindS3, "statements/2024/3/a.pdf"))
	assert.False(t, idx.Contains(storage.KindS3, "statements/2024/3/b.pdf"))
	assert.False(t, idx.Contains(storage.KindGCS, "elsewhere/2024/3/ignored.pdf"))
	assert.Equal(t, []storage.Kind{storage.KindGCS, storage.KindS3}, idx.Kinds())
}

func TestBuildIndex_ListingFailureIsNotFatal(t *testing.T) {
	gcs := memory.New(storage.KindGCS)
	gcs.Put("statements/2024/3/a.pdf", nil)
	gcs.Put("statements/2024/4/b.pdf", nil)
	gcs.FailList("statements/2024/3", errors.New("permission denied"))

	idx, errs, err := BuildIndex(context.Background(), []storage.Provider{gcs}, IndexOptions{
		Roots: []string{"statements/2024"},
	})

	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrorKindListing, errs[0].Kind)
	assert.Equal(t, "statements/2024/3", errs[0].Target)
	assert.Equal(t, "gcs", errs[0].Provider)
	assert.False(t, idx.Contains(storage.KindGCS, "statements/2024/3/a.pdf"))
	assert.True(t, idx.Contains(storage.KindGCS, "statements/2024/4/b.pdf"))
}

func TestBuildIndex_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := BuildIndex(ctx, []storage.Provider{memory.New(storage.KindGCS)}, IndexOptions{
		Roots: []string{"statements/2024"},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndex_NilContainsNothing(t *testing.T) {
	var idx *Index
	assert.False(t, idx.Contains(storage.KindGCS, "a"))
}
