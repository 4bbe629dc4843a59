package sweep

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

type SweepArgs struct {
	ExecuteTime int64 `json:"execute_time"`
}

func (SweepArgs) Kind() string { return "timelock_sweep" }

// Ledger defines the contract the worker needs to apply due transfers.
type Ledger interface {
	ExecutePendingTransfers(ctx context.Context) (int, error)
}

// Worker drains due timelocked transfers. Jobs are enqueued transactionally
// when a transfer is queued, and a periodic job covers anything missed.
type Worker struct {
	river.WorkerDefaults[SweepArgs]
	ledger Ledger
	log    *slog.Logger
}

func NewWorker(led Ledger, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{ledger: led, log: log}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	n, err := w.ledger.ExecutePendingTransfers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info("timelock sweep applied transfers", "count", n)
	}
	return nil
}
