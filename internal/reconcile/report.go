package reconcile

import (
	"fmt"
	"time"
)

// OrphanCounts tallies orphans by kind.
type OrphanCounts struct {
	Statements int `json:"statements"`
	Files      int `json:"files"`
	Blobs      int `json:"blobs"`
}

// Report is the result of a run.
type Report struct {
	RunID   string  `json:"run_id"`
	State   State   `json:"state"`
	Options Options `json:"options"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Total is the number of statements in the database; Processed is how many were scanned.
	Total      int64 `json:"total"`
	Processed  int   `json:"processed"`
	Valid      int   `json:"valid"`
	Unverified int   `json:"unverified"`
	Probes     int   `json:"probes"`

	TotalFiles   int64 `json:"total_files"`
	IndexedBlobs int   `json:"indexed_blobs"`

	Orphans      []Orphan     `json:"orphans"`
	OrphanCounts OrphanCounts `json:"orphan_counts"`

	// Deleted is zero in a dry run; WouldDelete is zero in execute mode.
	Deleted     DeleteCounts `json:"deleted"`
	WouldDelete DeleteCounts `json:"would_delete"`

	Errors          []ItemError `json:"errors"`
	Recommendations []string    `json:"recommendations"`
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrorsOfKind returns the recorded errors of one kind.
func (r *Report) ErrorsOfKind(kind ErrorKind) []ItemError {
	var out []ItemError
	for _, e := range r.Errors {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// OrphansOfKind returns the orphans of one kind in discovery order.
func (r *Report) OrphansOfKind(kind OrphanKind) []Orphan {
	var out []Orphan
	for _, o := range r.Orphans {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

func (r *Report) addOrphan(o Orphan) {
	r.Orphans = append(r.Orphans, o)
	switch o.Kind {
	case OrphanStatement:
		r.OrphanCounts.Statements++
	case OrphanFile:
		r.OrphanCounts.Files++
	case OrphanBlob:
		r.OrphanCounts.Blobs++
	}
}

// buildRecommendations derives operator guidance from a finished report.
func buildRecommendations(r *Report) []string {
	var recs []string
	opts := r.Options

	if r.OrphanCounts.Statements > 0 {
		if opts.DryRun {
			recs = append(recs, fmt.Sprintf(
				"%d statements reference missing files; re-run with execute to remove them together with %d transactions",
				r.OrphanCounts.Statements, r.WouldDelete.Transactions))
		} else if r.Deleted.Statements < int64(r.OrphanCounts.Statements) {
			recs = append(recs, fmt.Sprintf(
				"%d of %d orphaned statements were not removed; check the error list and re-run",
				int64(r.OrphanCounts.Statements)-r.Deleted.Statements, r.OrphanCounts.Statements))
		}
	}

	if r.OrphanCounts.Files > 0 && opts.DryRun {
		recs = append(recs, fmt.Sprintf(
			"%d file records are not referenced by any statement; re-run with execute and scope all or filesOnly to remove them",
			r.OrphanCounts.Files))
	}

	if r.OrphanCounts.Blobs > 0 && !opts.DeleteUnreferencedBlobs {
		recs = append(recs, fmt.Sprintf(
			"%d blobs have no file record; enable delete-unreferenced-blobs to remove them",
			r.OrphanCounts.Blobs))
	}

	if r.Unverified > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d statements could not be verified because storage probes failed; check storage connectivity and re-run",
			r.Unverified))
	}

	if n := len(r.ErrorsOfKind(ErrorKindListing)); n > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d storage partitions could not be listed; classification fell back to per-record probes",
			n))
	}

	if !opts.DryRun {
		failed := len(r.ErrorsOfKind(ErrorKindDelete)) + len(r.ErrorsOfKind(ErrorKindPartialDelete))
		if failed > 0 {
			recs = append(recs, fmt.Sprintf("%d deletions failed; the run is safe to repeat", failed))
		}
	}

	if opts.Scope.scansStatements() && int64(r.Processed) < r.Total {
		recs = append(recs, fmt.Sprintf(
			"Scanned %d of %d statements; raise max records to cover the rest",
			r.Processed, r.Total))
	}

	if len(r.Orphans) == 0 && len(r.Errors) == 0 && r.Unverified == 0 {
		recs = append(recs, "No drift detected; storage and metadata are consistent")
	}

	return recs
}

// StatusReport is a cheap health estimate that does not build the index or run a full scan.
type StatusReport struct {
	State State `json:"state"`

	TotalStatements int64 `json:"total_statements"`
	TotalFiles      int64 `json:"total_files"`

	Sampled           int   `json:"sampled"`
	SampledOrphans    int   `json:"sampled_orphans"`
	SampledUnverified int   `json:"sampled_unverified"`
	EstimatedOrphans  int64 `json:"estimated_orphans"`

	Providers []string    `json:"providers"`
	Errors    []ItemError `json:"errors"`
	CheckedAt time.Time   `json:"checked_at"`
}

// estimate scales the sampled orphan count to the whole table, rounding to nearest.
func estimate(orphans, sampled int, total int64) int64 {
	if sampled == 0 {
		return 0
	}
	return (int64(orphans)*total + int64(sampled)/2) / int64(sampled)
}
