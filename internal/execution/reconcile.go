package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// AutoReleaseArgs is the periodic sweep that persists auto-approvals nobody
// has read yet. Reads already derive the released status on their own; the
// sweep only keeps wallets and notifications timely.
type AutoReleaseArgs struct{}

func (AutoReleaseArgs) Kind() string { return "escrow_auto_release" }

// EscrowReconciler is the contract the sweep needs from the escrow service.
type EscrowReconciler interface {
	ReconcileOverdue(ctx context.Context) (int, error)
}

type AutoReleaseWorker struct {
	river.WorkerDefaults[AutoReleaseArgs]
	escrow EscrowReconciler
	log    *slog.Logger
}

func NewAutoReleaseWorker(escrow EscrowReconciler, log *slog.Logger) *AutoReleaseWorker {
	if log == nil {
		log = slog.Default()
	}
	return &AutoReleaseWorker{escrow: escrow, log: log}
}

func (w *AutoReleaseWorker) Work(ctx context.Context, _ *river.Job[AutoReleaseArgs]) error {
	n, err := w.escrow.ReconcileOverdue(ctx)
	if err != nil {
		return fmt.Errorf("reconcile overdue confirmations: %w", err)
	}
	if n > 0 {
		w.log.Info("auto-released overdue confirmations", "count", n)
	}
	return nil
}

// AutoReleasePeriodicJob schedules the sweep every interval.
func AutoReleasePeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return AutoReleaseArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
