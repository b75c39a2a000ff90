package reconcile

import (
	"context"
	"fmt"
)

// FetchFunc returns up to limit records starting at skip. An empty page ends the scan.
type FetchFunc[T any] func(ctx context.Context, skip, limit int) ([]T, error)

// VisitFunc receives one page. skip is the offset of batch[0] in the source.
type VisitFunc[T any] func(ctx context.Context, batch []T, skip int) error

// ScanResult summarises a scan.
type ScanResult struct {
	Processed int
	Batches   int

	// Capped is set when the scan stopped because maxRecords was reached.
	Capped bool
}

// Scan pages through a source in batches of batchSize, passing each page to visit.
// It stops on an empty page, once maxRecords records were visited (0 means no cap),
// or when ctx is done. Short pages do not end the scan, so sources that return fewer
// rows than requested are read to the end. Only one page is held at a time.
func Scan[T any](ctx context.Context, fetch FetchFunc[T], batchSize, maxRecords int, visit VisitFunc[T]) (ScanResult, error) {
	var res ScanResult
	if batchSize <= 0 {
		return res, fmt.Errorf("Scan: batch size must be positive, got %d", batchSize)
	}

	skip := 0
	for {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("Scan: %w", err)
		}

		limit := batchSize
		if maxRecords > 0 {
			remaining := maxRecords - res.Processed
			if remaining <= 0 {
				res.Capped = true
				return res, nil
			}
			if remaining < limit {
				limit = remaining
			}
		}

		page, err := fetch(ctx, skip, limit)
		if err != nil {
			return res, fmt.Errorf("Scan: fetch page at offset %d: %w", skip, err)
		}
		if len(page) == 0 {
			return res, nil
		}
		if len(page) > limit {
			page = page[:limit]
		}

		if err := visit(ctx, page, skip); err != nil {
			return res, fmt.Errorf("Scan: visit page at offset %d: %w", skip, err)
		}

		res.Processed += len(page)
		res.Batches++
		skip += len(page)
	}
}
