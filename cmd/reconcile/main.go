// Command reconcile previews, executes or samples a reconciliation run against the
// configured BigQuery dataset and storage buckets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/app"
	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/output"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/rs/zerolog"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type mode string

const (
	modePreview mode = "preview"
	modeExecute mode = "execute"
	modeVerify  mode = "verify"
)

type cliOptions struct {
	mode       mode
	configPath string
	jsonOut    bool
	timeout    time.Duration

	scope       reconcile.Scope
	batchSize   int
	maxRecords  int
	sample      int
	deleteBlobs bool

	// set records which flags were given, so only those override config values.
	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Statement reconciler")
		fmt.Fprintln(stderr, "\nUsage:")
		fmt.Fprintln(stderr, "  reconcile --preview | --execute | --verify [options]")
		fmt.Fprintln(stderr, "\nOptions:")
		fs.PrintDefaults()
	}

	var (
		preview = fs.Bool("preview", false, "Classify everything and report what would be deleted")
		execute = fs.Bool("execute", false, "Classify and delete orphans")
		verify  = fs.Bool("verify", false, "Report totals and an orphan estimate from a sample")
		scope   = fs.String("scope", "all", "Cleanup scope: all, statements-only or files-only")
	)
	opts := &cliOptions{set: map[string]bool{}}
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print the report as JSON")
	fs.DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this long (default from config)")
	fs.IntVar(&opts.batchSize, "batch-size", 0, "Statements per page")
	fs.IntVar(&opts.maxRecords, "max-records", 0, "Stop scanning after this many statements (0 means all)")
	fs.IntVar(&opts.sample, "sample", 0, "Statements probed by --verify")
	fs.BoolVar(&opts.deleteBlobs, "delete-unreferenced-blobs", false, "Also delete blobs no file record references")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	chosen := 0
	for m, on := range map[mode]bool{modePreview: *preview, modeExecute: *execute, modeVerify: *verify} {
		if on {
			opts.mode = m
			chosen++
		}
	}
	if chosen != 1 {
		return nil, errors.New("exactly one of --preview, --execute or --verify is required")
	}

	s, err := reconcile.ParseScope(*scope)
	if err != nil {
		return nil, err
	}
	opts.scope = s

	if opts.set["batch-size"] && opts.batchSize <= 0 {
		return nil, fmt.Errorf("--batch-size must be positive, got %d", opts.batchSize)
	}
	if opts.maxRecords < 0 {
		return nil, fmt.Errorf("--max-records must not be negative, got %d", opts.maxRecords)
	}
	if opts.set["sample"] && (opts.sample < 1 || opts.sample > 1000) {
		return nil, fmt.Errorf("--sample must be between 1 and 1000, got %d", opts.sample)
	}
	if opts.timeout < 0 {
		return nil, fmt.Errorf("--timeout must not be negative, got %s", opts.timeout)
	}
	return opts, nil
}

// runOptions layers the given flags over the configured defaults.
func (o *cliOptions) runOptions(cfg *config.Config) reconcile.Options {
	opts := app.DefaultOptions(cfg)
	opts.DryRun = o.mode != modeExecute
	opts.Scope = o.scope
	if o.set["batch-size"] {
		opts.BatchSize = o.batchSize
	}
	if o.set["max-records"] {
		opts.MaxRecords = o.maxRecords
	}
	if o.set["delete-unreferenced-blobs"] {
		opts.DeleteUnreferencedBlobs = o.deleteBlobs
	}
	return opts
}

func (o *cliOptions) sampleSize(cfg *config.Config) int {
	if o.set["sample"] {
		return o.sample
	}
	return cfg.Reconcile.StatusSample
}

func (o *cliOptions) runTimeout(cfg *config.Config) time.Duration {
	if o.set["timeout"] {
		return o.timeout
	}
	return cfg.Reconcile.Timeout
}

// logProgress logs state changes at info and per-batch progress at debug.
func logProgress(log zerolog.Logger) func(reconcile.Progress) {
	last := reconcile.StateIdle
	return func(p reconcile.Progress) {
		ev := log.Debug()
		if p.State != last {
			ev = log.Info()
			last = p.State
		}
		ev.Str("run_id", p.RunID).
			Str("state", string(p.State)).
			Int("processed", p.Processed).
			Int64("total", p.Total).
			Int("orphans", p.Orphans).
			Msg("Reconcile progress")
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	// Logs go to stderr so --json output stays machine-readable.
	log := logger.NewWithOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Writer: stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if timeout := opts.runTimeout(cfg); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, reconcile.WithProgress(logProgress(log)))
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialise")
		return exitError
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close clients")
		}
	}()

	if opts.mode == modeVerify {
		st, err := a.Orchestrator.Status(ctx, opts.sampleSize(cfg))
		if err != nil {
			log.Error().Err(err).Msg("Status check failed")
			return exitError
		}
		return emit(stdout, opts.jsonOut, st, func() { output.PrintStatus(stdout, st) }, log)
	}

	runOpts := opts.runOptions(cfg)
	log.Info().
		Str("mode", string(opts.mode)).
		Str("scope", string(runOpts.Scope)).
		Int("batch_size", runOpts.BatchSize).
		Int("max_records", runOpts.MaxRecords).
		Bool("delete_unreferenced_blobs", runOpts.DeleteUnreferencedBlobs).
		Msg("Starting reconciliation")

	report, err := a.Orchestrator.Run(ctx, runOpts)
	if err != nil {
		var runErr *reconcile.RunError
		if errors.As(err, &runErr) {
			log.Error().Err(runErr.Err).Str("run_id", runErr.RunID).Str("failed_in", string(runErr.State)).Msg("Reconciliation aborted")
		} else {
			log.Error().Err(err).Msg("Reconciliation failed")
		}
		return exitError
	}

	return emit(stdout, opts.jsonOut, report, func() { output.PrintReport(stdout, report) }, log)
}

func emit(w io.Writer, asJSON bool, v any, table func(), log zerolog.Logger) int {
	if !asJSON {
		table()
		return exitOK
	}
	if err := output.PrintJSON(w, v); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON")
		return exitError
	}
	return exitOK
}
