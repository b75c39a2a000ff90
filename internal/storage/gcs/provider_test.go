package gcs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	blob "github.com/dvloznov/statement-reconciler/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type objectJSON struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Bucket  string `json:"bucket"`
	Size    string `json:"size"`
	Updated string `json:"updated"`
}

// newFakeBucket serves the JSON API object listing for one bucket, honouring
// prefix and the "/" delimiter.
func newFakeBucket(t *testing.T, keys ...string) *Provider {
	t.Helper()
	sort.Strings(keys)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/b/ledger/o") {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		prefix := r.URL.Query().Get("prefix")

		items := []objectJSON{}
		prefixes := []string{}
		for _, k := range keys {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			rest := k[len(prefix):]
			if i := strings.Index(rest, "/"); i >= 0 {
				prefixes = append(prefixes, prefix+rest[:i+1])
				continue
			}
			items = append(items, objectJSON{
				Kind:    "storage#object",
				Name:    k,
				Bucket:  "ledger",
				Size:    "4",
				Updated: "2024-03-01T10:00:00.000Z",
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"kind":     "storage#objects",
			"items":    items,
			"prefixes": prefixes,
		})
	}))
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "ledger")
}

func names(blobs []blob.Blob) []string {
	out := make([]string, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, b.Name)
	}
	return out
}

func TestList_SkipsFolderPlaceholders(t *testing.T) {
	p := newFakeBucket(t,
		"statements/2024/3/",
		"statements/2024/3/a.pdf",
		"statements/2024/3/b.pdf",
		"statements/2024/3/c.pdf",
		"statements/2024/3/scans/x.pdf",
	)
	ctx := context.Background()

	all, err := p.List(ctx, "statements/2024/3", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, names(all))
	assert.Equal(t, int64(4), all[0].Size)

	first, err := p.List(ctx, "statements/2024/3", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, names(first))

	rest, err := p.List(ctx, "statements/2024/3", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.pdf"}, names(rest))
}

func TestClosedProvider(t *testing.T) {
	p := New(nil, "ledger")
	require.NoError(t, p.Close())

	_, err := p.List(context.Background(), "statements", 10, 0)
	assert.ErrorIs(t, err, blob.ErrProviderClosed)
}
