package reconcile

import "time"

// Metrics receives run instrumentation. internal/metrics provides the Prometheus
// implementation; a nil Metrics disables instrumentation.
type Metrics interface {
	// RunFinished is called once per run with its final state.
	RunFinished(scope Scope, dryRun bool, state State, d time.Duration)

	// IndexBuilt is called with the number of blobs indexed per provider.
	IndexBuilt(provider string, blobs int)

	// Classified counts one classified record of kind with its status.
	Classified(kind OrphanKind, status Status)

	// Probed records one existence probe and whether it failed inconclusively.
	Probed(provider string, d time.Duration, failed bool)

	// Deleted adds n removed items of kind. dryRun marks would-delete counts.
	Deleted(kind string, n int64, dryRun bool)

	// ItemErrors counts recorded non-fatal errors.
	ItemErrors(kind ErrorKind, n int)
}

type noopMetrics struct{}

func (noopMetrics) RunFinished(Scope, bool, State, time.Duration) {}
func (noopMetrics) IndexBuilt(string, int)                        {}
func (noopMetrics) Classified(OrphanKind, Status)                 {}
func (noopMetrics) Probed(string, time.Duration, bool)            {}
func (noopMetrics) Deleted(string, int64, bool)                   {}
func (noopMetrics) ItemErrors(ErrorKind, int)                     {}
