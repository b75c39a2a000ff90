package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	bq "github.com/dvloznov/statement-reconciler/internal/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultStatusSample is the number of statements probed by Status when sample is zero.
const DefaultStatusSample = 20

// Dependencies are the stores a run reads and repairs.
type Dependencies struct {
	Statements   bq.StatementRepository
	Files        bq.FileRepository
	Transactions bq.TransactionRepository
	Registry     *storage.Registry
}

// Config holds engine settings that do not change between runs.
type Config struct {
	// Prefix is the managed blob prefix, for example "statements".
	Prefix string

	// StartYear is the first year root listed under Prefix. Listing runs up to the
	// current year. Ignored when Roots is set.
	StartYear int

	// Roots overrides the year roots derived from Prefix and StartYear.
	Roots []string

	// Partitions overrides the month partitions 1–12.
	Partitions []string

	ListPageSize     int
	ProbeConcurrency int
	DeleteChunkSize  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgress registers a callback invoked on every state change and after every batch.
// The callback runs on the run's goroutine and should return quickly.
func WithProgress(fn func(Progress)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithMetrics registers run instrumentation.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator drives index building, scanning and deletion for one configured set of
// stores. Run may be called repeatedly; concurrent runs against the same data must be
// serialised by the caller.
type Orchestrator struct {
	deps    Dependencies
	cfg     Config
	checker *Checker
	deleter *Deleter

	metrics  Metrics
	progress func(Progress)
	now      func() time.Time

	mu    sync.RWMutex
	state State
}

// New creates an orchestrator.
func New(deps Dependencies, cfg Config, opts ...Option) *Orchestrator {
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = 100
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 1
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "statements"
	}

	o := &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		checker: NewChecker(deps.Registry),
		deleter: NewDeleter(deps.Statements, deps.Files, deps.Transactions, deps.Registry, cfg.DeleteChunkSize),
		metrics: noopMetrics{},
		now:     time.Now,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the state of the most recent run. It is safe to call concurrently with Run.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) roots() []string {
	if len(o.cfg.Roots) > 0 {
		return o.cfg.Roots
	}
	end := o.now().Year()
	start := o.cfg.StartYear
	if start <= 0 || start > end {
		start = end
	}
	return YearRoots(o.cfg.Prefix, start, end)
}

func (o *Orchestrator) transition(ctx context.Context, rep *Report, s State) {
	rep.State = s
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()

	log := logger.FromContext(ctx)
	log.Debug().Str("state", string(s)).Msg("State changed")
	o.emit(rep)
}

func (o *Orchestrator) emit(rep *Report) {
	if o.progress == nil {
		return
	}
	o.progress(Progress{
		RunID:     rep.RunID,
		State:     rep.State,
		Processed: rep.Processed,
		Total:     rep.Total,
		Orphans:   len(rep.Orphans),
		At:        o.now(),
	})
}

// fail moves the run to StateError and wraps err as a RunError.
func (o *Orchestrator) fail(ctx context.Context, rep *Report, err error) error {
	failedIn := rep.State
	rep.FinishedAt = o.now()
	o.transition(ctx, rep, StateError)

	log := logger.FromContext(ctx)
	log.Error().Err(err).Str("failed_in", string(failedIn)).Msg("Reconciliation run aborted")

	o.metrics.RunFinished(rep.Options.Scope, rep.Options.DryRun, StateError, rep.Duration())
	return &RunError{RunID: rep.RunID, State: failedIn, Err: err}
}

// runPlan collects what the scan decided, plus the blobs already known to be missing.
type runPlan struct {
	Plan
	missing map[string]bool
}

func blobKey(kind storage.Kind, path string) string {
	return string(kind) + "|" + path
}

// Run performs one reconciliation. It returns a report when every collection could be
// read, even if individual probes or deletes failed. It returns a *RunError (matching
// ErrFatal) when a database read fails or ctx ends during indexing or scanning.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := logger.FromContext(ctx).With().
		Str("run_id", runID).
		Str("scope", string(opts.Scope)).
		Bool("dry_run", opts.DryRun).
		Logger()
	ctx = logger.WithContext(ctx, log)

	rep := &Report{
		RunID:     runID,
		State:     StateIdle,
		Options:   opts,
		StartedAt: o.now(),
	}
	log.Info().
		Int("batch_size", opts.BatchSize).
		Int("max_records", opts.MaxRecords).
		Msg("Starting reconciliation run")

	o.transition(ctx, rep, StateIndexing)

	idx, listErrs, err := BuildIndex(ctx, o.deps.Registry.Providers(), IndexOptions{
		Roots:       o.roots(),
		Partitions:  o.cfg.Partitions,
		PageSize:    o.cfg.ListPageSize,
		Concurrency: o.cfg.ProbeConcurrency,
	})
	rep.Errors = append(rep.Errors, listErrs...)
	if err != nil {
		return nil, o.fail(ctx, rep, err)
	}
	rep.IndexedBlobs = idx.Len()
	for _, kind := range o.deps.Registry.Kinds() {
		o.metrics.IndexBuilt(string(kind), len(idx.Blobs(kind)))
	}

	if rep.Total, err = o.deps.Statements.CountStatements(ctx); err != nil {
		return nil, o.fail(ctx, rep, fmt.Errorf("count statements: %w", err))
	}
	if rep.TotalFiles, err = o.deps.Files.CountFiles(ctx); err != nil {
		return nil, o.fail(ctx, rep, fmt.Errorf("count files: %w", err))
	}

	o.transition(ctx, rep, StateScanning)

	plan := &runPlan{
		Plan:    Plan{StatementFileRefs: make(map[string]int)},
		missing: make(map[string]bool),
	}

	if opts.Scope.scansStatements() {
		res, err := Scan[*bq.StatementRow](ctx, o.deps.Statements.FindStatementPage, opts.BatchSize, opts.MaxRecords,
			func(ctx context.Context, batch []*bq.StatementRow, skip int) error {
				return o.visitStatements(ctx, rep, idx, plan, batch, skip)
			})
		rep.Processed = res.Processed
		if err != nil {
			return nil, o.fail(ctx, rep, err)
		}
		log.Info().
			Int("processed", res.Processed).
			Int("batches", res.Batches).
			Bool("capped", res.Capped).
			Msg("Statement scan finished")
	}

	if opts.Scope.scansFiles() {
		if err := o.scanFiles(ctx, rep, idx, plan); err != nil {
			return nil, o.fail(ctx, rep, err)
		}
	}

	if opts.Scope == ScopeStatementsOnly {
		plan.StatementFileRefs = nil
	}

	if !opts.DryRun {
		o.transition(ctx, rep, StateDeleting)
	}
	counts := o.delete(ctx, rep, plan, opts)
	if opts.DryRun {
		rep.WouldDelete = counts
		o.transition(ctx, rep, StateDryRunComplete)
	} else {
		rep.Deleted = counts
		o.transition(ctx, rep, StateComplete)
	}

	rep.Recommendations = buildRecommendations(rep)
	rep.FinishedAt = o.now()

	for _, kind := range []ErrorKind{ErrorKindListing, ErrorKindProbe, ErrorKindDelete, ErrorKindPartialDelete} {
		if n := len(rep.ErrorsOfKind(kind)); n > 0 {
			o.metrics.ItemErrors(kind, n)
		}
	}
	o.metrics.RunFinished(opts.Scope, opts.DryRun, rep.State, rep.Duration())

	log.Info().
		Int64("total", rep.Total).
		Int("processed", rep.Processed).
		Int("valid", rep.Valid).
		Int("orphaned_statements", rep.OrphanCounts.Statements).
		Int("orphaned_files", rep.OrphanCounts.Files).
		Int("orphaned_blobs", rep.OrphanCounts.Blobs).
		Int64("deleted", rep.Deleted.Total()).
		Int64("would_delete", rep.WouldDelete.Total()).
		Int("errors", len(rep.Errors)).
		Dur("duration", rep.Duration()).
		Msg("Reconciliation run finished")

	return rep, nil
}

// classifyAll classifies a batch with at most ProbeConcurrency probes in flight.
// Results are positional, so no lock is needed to aggregate them.
func (o *Orchestrator) classifyAll(ctx context.Context, batch []*bq.StatementRow, idx *Index) []Verdict {
	verdicts := make([]Verdict, len(batch))

	var g errgroup.Group
	g.SetLimit(o.cfg.ProbeConcurrency)
	for i, stmt := range batch {
		g.Go(func() error {
			start := time.Now()
			v := o.checker.ClassifyStatement(ctx, stmt, idx)
			if v.Probed {
				o.metrics.Probed(string(v.Provider), time.Since(start), v.Status == StatusUnverified)
			}
			verdicts[i] = v
			return nil
		})
	}
	_ = g.Wait()
	return verdicts
}

func (o *Orchestrator) visitStatements(ctx context.Context, rep *Report, idx *Index, plan *runPlan, batch []*bq.StatementRow, skip int) error {
	log := logger.FromContext(ctx)

	verdicts := o.classifyAll(ctx, batch, idx)
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, v := range verdicts {
		stmt := batch[i]
		o.metrics.Classified(OrphanStatement, v.Status)
		if v.Probed {
			rep.Probes++
		}

		switch v.Status {
		case StatusValid:
			rep.Valid++
		case StatusUnverified:
			rep.Unverified++
			rep.Errors = append(rep.Errors, newItemError(ErrorKindProbe,
				fmt.Sprintf("statement %s: %s", stmt.StatementID, v.Path), string(v.Provider), v.ProbeErr))
			log.Warn().
				Err(v.ProbeErr).
				Str("statement_id", stmt.StatementID).
				Str("path", v.Path).
				Msg("Existence probe failed, leaving statement unverified")
		case StatusOrphaned:
			orphan := Orphan{
				Kind:     OrphanStatement,
				ID:       stmt.StatementID,
				Path:     v.Path,
				Provider: string(v.Provider),
				Reason:   v.Reason,
			}
			if stmt.HasFileRef() {
				orphan.FileID = stmt.FileID.StringVal
				plan.StatementFileRefs[orphan.FileID]++
			}
			if v.Reason == ReasonNotInStorage {
				plan.missing[blobKey(v.Provider, v.Path)] = true
			}
			rep.addOrphan(orphan)
			plan.StatementIDs = append(plan.StatementIDs, stmt.StatementID)
			log.Info().
				Str("statement_id", stmt.StatementID).
				Str("path", v.Path).
				Str("reason", v.Reason).
				Msg("Orphaned statement")
		}
	}

	rep.Processed = skip + len(batch)
	log.Debug().Int("batch_start", skip).Int("batch_size", len(batch)).Msg("Batch classified")
	o.emit(rep)
	return nil
}

// scanFiles finds file rows no statement references and indexed blobs no file row references.
func (o *Orchestrator) scanFiles(ctx context.Context, rep *Report, idx *Index, plan *runPlan) error {
	log := logger.FromContext(ctx)

	referenced, err := o.deps.Statements.ListReferencedFileIDs(ctx)
	if err != nil {
		return fmt.Errorf("list referenced file ids: %w", err)
	}
	refSet := make(map[string]bool, len(referenced))
	for _, id := range referenced {
		refSet[id] = true
	}

	files, err := o.deps.Files.FindFiles(ctx, bq.FileFilter{})
	if err != nil {
		return fmt.Errorf("find files: %w", err)
	}

	filePaths := make(map[storage.Kind]map[string]bool)
	for _, f := range files {
		kind := o.deps.Registry.Resolve(f.StorageProvider)
		if f.StoragePath != "" {
			if filePaths[kind] == nil {
				filePaths[kind] = make(map[string]bool)
			}
			filePaths[kind][f.StoragePath] = true
		}

		if !ClassifyFile(f, refSet) {
			o.metrics.Classified(OrphanFile, StatusValid)
			continue
		}
		o.metrics.Classified(OrphanFile, StatusOrphaned)
		rep.addOrphan(Orphan{
			Kind:     OrphanFile,
			ID:       f.FileID,
			FileID:   f.FileID,
			Path:     f.StoragePath,
			Provider: string(kind),
			Reason:   ReasonUnreferenced,
			Size:     f.SizeBytes,
		})
		plan.OrphanFileIDs = append(plan.OrphanFileIDs, f.FileID)
		log.Info().Str("file_id", f.FileID).Str("path", f.StoragePath).Msg("Orphaned file record")
	}

	for _, kind := range idx.Kinds() {
		for _, b := range idx.Blobs(kind) {
			if !ClassifyBlob(b.Name, filePaths[kind]) {
				o.metrics.Classified(OrphanBlob, StatusValid)
				continue
			}
			o.metrics.Classified(OrphanBlob, StatusOrphaned)
			rep.addOrphan(Orphan{
				Kind:     OrphanBlob,
				Path:     b.Name,
				Provider: string(kind),
				Reason:   ReasonNoFileRecord,
				Size:     b.Size,
			})
		}
	}

	o.emit(rep)
	return nil
}

// delete runs the cascading delete and the blob pass, returning the counts.
func (o *Orchestrator) delete(ctx context.Context, rep *Report, plan *runPlan, opts Options) DeleteCounts {
	res, err := o.deleter.Delete(ctx, plan.Plan, opts.DryRun)
	rep.Errors = append(rep.Errors, res.Errors...)
	counts := res.Counts
	if err != nil {
		rep.Errors = append(rep.Errors, newItemError(ErrorKindDelete, "remaining deletions", "", err))
		return counts
	}

	targets := o.blobTargets(rep, plan, res.Files, opts)
	n, errs := o.deleter.DeleteOrphanedBlobs(ctx, targets, opts.DryRun)
	rep.Errors = append(rep.Errors, errs...)
	counts.Blobs = n

	o.metrics.Deleted("transactions", counts.Transactions, opts.DryRun)
	o.metrics.Deleted("statements", counts.Statements, opts.DryRun)
	o.metrics.Deleted("files", counts.Files, opts.DryRun)
	o.metrics.Deleted("blobs", counts.Blobs, opts.DryRun)
	return counts
}

// blobTargets returns the blobs of removed file rows, skipping those already known to be
// missing, plus the unreferenced blobs when the run opted in.
func (o *Orchestrator) blobTargets(rep *Report, plan *runPlan, files []*bq.FileRow, opts Options) []BlobTarget {
	seen := make(map[string]bool)
	var targets []BlobTarget
	add := func(t BlobTarget) {
		key := blobKey(t.Provider, t.Path)
		if t.Path == "" || seen[key] || plan.missing[key] {
			return
		}
		seen[key] = true
		targets = append(targets, t)
	}

	for _, f := range files {
		add(BlobTarget{Provider: o.deps.Registry.Resolve(f.StorageProvider), Path: f.StoragePath, Size: f.SizeBytes})
	}
	if opts.DeleteUnreferencedBlobs {
		for _, b := range rep.OrphansOfKind(OrphanBlob) {
			add(BlobTarget{Provider: storage.Kind(b.Provider), Path: b.Path, Size: b.Size})
		}
	}
	return targets
}

// Status counts statements and files and probes the first sample statements directly,
// without building the index or scanning the table.
func (o *Orchestrator) Status(ctx context.Context, sample int) (*StatusReport, error) {
	if sample <= 0 {
		sample = DefaultStatusSample
	}

	st := &StatusReport{State: o.State(), CheckedAt: o.now()}
	for _, k := range o.deps.Registry.Kinds() {
		st.Providers = append(st.Providers, string(k))
	}

	var err error
	if st.TotalStatements, err = o.deps.Statements.CountStatements(ctx); err != nil {
		return nil, fmt.Errorf("Status: count statements: %w", err)
	}
	if st.TotalFiles, err = o.deps.Files.CountFiles(ctx); err != nil {
		return nil, fmt.Errorf("Status: count files: %w", err)
	}

	batch, err := o.deps.Statements.FindStatementPage(ctx, 0, sample)
	if err != nil {
		return nil, fmt.Errorf("Status: sample statements: %w", err)
	}

	for i, v := range o.classifyAll(ctx, batch, nil) {
		switch v.Status {
		case StatusOrphaned:
			st.SampledOrphans++
		case StatusUnverified:
			st.SampledUnverified++
			st.Errors = append(st.Errors, newItemError(ErrorKindProbe,
				fmt.Sprintf("statement %s: %s", batch[i].StatementID, v.Path), string(v.Provider), v.ProbeErr))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("Status: %w", err)
	}

	st.Sampled = len(batch)
	st.EstimatedOrphans = estimate(st.SampledOrphans, st.Sampled, st.TotalStatements)
	return st, nil
}
