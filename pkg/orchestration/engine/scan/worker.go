package scan

import (
	"context"
	"fmt"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/runtime"
	"github.com/factweave/factweave/pkg/orchestration/core/service"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

const workerComponent = "scan_worker"

// Worker processes one message batch and reports its partial result to the
// scan coordinator. Scanning and signalling are separate checkpointed steps,
// so a worker resumed after a crash re-sends its recorded result instead of
// re-classifying the batch.
type Worker struct {
	rt      runtime.Runtime
	scanner service.MessageScanner
}

// NewWorker creates a Worker that classifies batches with the given scanner.
func NewWorker(rt runtime.Runtime, scanner service.MessageScanner) *Worker {
	return &Worker{rt: rt, scanner: scanner}
}

// WorkerWorkflowID derives the deterministic workflow id for one batch of a scan.
func WorkerWorkflowID(scanID string, batchIndex int) string {
	return fmt.Sprintf("scan-batch-%s-%d", scanID, batchIndex)
}

// ProcessBatch classifies messageIDs and signals the coordinator. A scanner
// error still produces a batch_complete signal counting every message as an
// error, so the coordinator's fan-in arithmetic stays exact.
func (w *Worker) ProcessBatch(ctx context.Context, scanID string, batchIndex int, messageIDs []string) error {
	workflowID := WorkerWorkflowID(scanID, batchIndex)

	outcome, err := runtime.RunStep(ctx, w.rt, workflowID, "scan_batch", runtime.NoRetry, func(ctx context.Context) (model.BatchCompleteSignal, error) {
		res, err := w.scanner.ScanBatch(ctx, scanID, messageIDs)
		if err != nil {
			logger.Warnf("Scan '%s' batch %d: scanner failed, counting %d messages as errors: %v",
				scanID, batchIndex, len(messageIDs), err)
			return model.BatchCompleteSignal{Errors: len(messageIDs)}, nil
		}
		return *res, nil
	})
	if err != nil {
		return exception.NewOrchestrationError(workerComponent, "failed to scan message batch", err, false)
	}

	if _, err := runtime.RunStep(ctx, w.rt, workflowID, "signal_coordinator", runtime.NoRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.rt.Send(ctx, model.ScanWorkflowID(scanID), TopicBatchComplete, &outcome)
	}); err != nil {
		return exception.NewOrchestrationError(workerComponent, "failed to signal scan coordinator", err, false)
	}
	return nil
}
