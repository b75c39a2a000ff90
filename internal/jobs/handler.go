package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
)

// Runner executes one reconciliation run. *reconcile.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, opts reconcile.Options) (*reconcile.Report, error)
}

var _ Runner = (*reconcile.Orchestrator)(nil)

// NewReconcileHandler returns a JobHandler that runs reconciliation jobs with runner.
// A positive timeout bounds each attempt.
func NewReconcileHandler(runner Runner, timeout time.Duration) JobHandler {
	return func(ctx context.Context, job Job) error {
		rj, ok := job.(*ReconcileJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		log := logger.FromContext(ctx).With().Str("job_id", rj.JobID).Logger()
		ctx = logger.WithContext(ctx, log)

		log.Info().
			Str("scope", string(rj.Options.Scope)).
			Bool("dry_run", rj.Options.DryRun).
			Msg("Processing reconcile job")

		report, err := runner.Run(ctx, rj.Options)
		if err != nil {
			log.Error().Err(err).Msg("Reconcile job failed")
			return err
		}
		rj.Report = report

		log.Info().
			Str("run_id", report.RunID).
			Str("state", string(report.State)).
			Int("orphans", len(report.Orphans)).
			Msg("Reconcile job completed")
		return nil
	}
}
