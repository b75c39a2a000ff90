package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/reconcile"
)

func mode(dryRun bool) string {
	if dryRun {
		return "preview"
	}
	return "execute"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PrintReport writes a run report as a summary, orphan, deletion and error tables
// followed by the recommendations.
func PrintReport(w io.Writer, rep *reconcile.Report) {
	fmt.Fprintf(w, "Reconciliation run %s\n\n", rep.RunID)

	SimpleTable(w, [][2]string{
		{"State", string(rep.State)},
		{"Mode", mode(rep.Options.DryRun)},
		{"Scope", string(rep.Options.Scope)},
		{"Duration", rep.Duration().Round(time.Millisecond).String()},
		{"Statements", strconv.FormatInt(rep.Total, 10)},
		{"Processed", strconv.Itoa(rep.Processed)},
		{"Valid", strconv.Itoa(rep.Valid)},
		{"Unverified", strconv.Itoa(rep.Unverified)},
		{"Probes", strconv.Itoa(rep.Probes)},
		{"Files", strconv.FormatInt(rep.TotalFiles, 10)},
		{"Indexed blobs", strconv.Itoa(rep.IndexedBlobs)},
	})

	if len(rep.Orphans) > 0 {
		fmt.Fprintf(w, "\nOrphans (%d statements, %d files, %d blobs)\n",
			rep.OrphanCounts.Statements, rep.OrphanCounts.Files, rep.OrphanCounts.Blobs)
		t := NewTableData("Kind", "ID", "Path", "Provider", "Reason")
		for _, o := range rep.Orphans {
			t.AddRow(string(o.Kind), dash(o.ID), dash(o.Path), dash(o.Provider), o.Reason)
		}
		PrintTable(w, t)
	}

	counts, label := rep.Deleted, "Deleted"
	if rep.Options.DryRun {
		counts, label = rep.WouldDelete, "Would delete"
	}
	fmt.Fprintln(w)
	t := NewTableData("Item", label)
	t.AddRow("transactions", strconv.FormatInt(counts.Transactions, 10))
	t.AddRow("statements", strconv.FormatInt(counts.Statements, 10))
	t.AddRow("files", strconv.FormatInt(counts.Files, 10))
	t.AddRow("blobs", strconv.FormatInt(counts.Blobs, 10))
	PrintTable(w, t)

	printErrors(w, rep.Errors)

	if len(rep.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations")
		for _, r := range rep.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
}

// PrintStatus writes a status estimate.
func PrintStatus(w io.Writer, st *reconcile.StatusReport) {
	SimpleTable(w, [][2]string{
		{"State", string(st.State)},
		{"Providers", strings.Join(st.Providers, ", ")},
		{"Statements", strconv.FormatInt(st.TotalStatements, 10)},
		{"Files", strconv.FormatInt(st.TotalFiles, 10)},
		{"Sampled", strconv.Itoa(st.Sampled)},
		{"Sampled orphans", strconv.Itoa(st.SampledOrphans)},
		{"Sampled unverified", strconv.Itoa(st.SampledUnverified)},
		{"Estimated orphans", strconv.FormatInt(st.EstimatedOrphans, 10)},
		{"Checked at", st.CheckedAt.Format(time.RFC3339)},
	})
	printErrors(w, st.Errors)
}

func printErrors(w io.Writer, errs []reconcile.ItemError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(w, "\nErrors (%d)\n", len(errs))
	t := NewTableData("Kind", "Target", "Provider", "Message")
	for _, e := range errs {
		t.AddRow(string(e.Kind), e.Target, dash(e.Provider), e.Message)
	}
	PrintTable(w, t)
}
