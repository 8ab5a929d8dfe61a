// Package scan implements the content-scan fan-in coordinator and its batch
// worker. Workers classify message batches independently and signal their
// partial results to a coordinator workflow, which accumulates them
// commutatively and finalizes a single aggregate once the producer declares
// the stream complete.
package scan

import (
	"context"
	"errors"
	"time"

	"github.com/factweave/factweave/pkg/orchestration/admission"
	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/core/metrics"
	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
	"github.com/factweave/factweave/pkg/orchestration/core/runtime"
	"github.com/factweave/factweave/pkg/orchestration/core/service"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

const componentName = "scan_coordinator"

// Signal topics between workers, producer, and coordinator.
const (
	TopicBatchComplete  = "batch_complete"
	TopicAllTransmitted = "all_transmitted"
)

// EventScanFinished is the downstream event emitted when a scan finalizes.
const EventScanFinished = "scan.finished"

// Coordinator is the fan-in orchestrator for content scans.
type Coordinator struct {
	rt       runtime.Runtime
	repo     repository.ScanResultRepository
	gate     *admission.Gate
	clock    runtime.Clock
	cfg      config.ScanConfig
	weight   int
	emitter  service.EventEmitter
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewCoordinator creates a Coordinator bound to the configured scan settings.
func NewCoordinator(
	rt runtime.Runtime,
	repo repository.OrchestrationRepository,
	gate *admission.Gate,
	clock runtime.Clock,
	cfg *config.Config,
	emitter service.EventEmitter,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Coordinator {
	return &Coordinator{
		rt:       rt,
		repo:     repo,
		gate:     gate,
		clock:    clock,
		cfg:      cfg.Factweave.Scan,
		weight:   cfg.Factweave.Admission.ScanWeight,
		emitter:  emitter,
		recorder: recorder,
		tracer:   tracer,
	}
}

// Run executes the coordinator workflow for one scan and returns the
// finalized aggregate. The workflow id is derived from the scan id, so
// dispatching the same scan twice converges on one coordinator.
func (c *Coordinator) Run(ctx context.Context, scanID string) (*model.ScanResult, error) {
	var result *model.ScanResult
	err := c.gate.Do(ctx, admission.DefaultPool, c.weight, func(ctx context.Context) error {
		var runErr error
		result, runErr = c.run(ctx, scanID)
		return runErr
	})
	return result, err
}

func (c *Coordinator) run(ctx context.Context, scanID string) (*model.ScanResult, error) {
	ctx, endSpan := c.tracer.StartSpan(ctx, "scan.coordinate")
	defer endSpan()

	workflowID := model.ScanWorkflowID(scanID)
	timeout := time.Duration(c.cfg.SignalTimeoutSeconds) * time.Second

	agg := model.ScanResult{ScanID: scanID}
	allTransmitted := false
	expectedTotal := 0
	idleWaits := 0

	for {
		if !allTransmitted {
			if sig, ok := runtime.TryRecvAs[model.AllTransmittedSignal](ctx, c.rt, workflowID, TopicAllTransmitted); ok {
				allTransmitted = true
				expectedTotal = sig.MessagesScanned
				agg.MessagesScanned = sig.MessagesScanned
				c.recorder.RecordSignal(ctx, TopicAllTransmitted)
				logger.Debugf("Scan '%s': producer finished, expecting %d messages.", scanID, expectedTotal)
			}
		}
		if allTransmitted && agg.Processed+agg.Errors >= expectedTotal {
			break
		}

		sig, err := runtime.RecvAs[model.BatchCompleteSignal](ctx, c.rt, workflowID, TopicBatchComplete, timeout)
		if err != nil {
			if errors.Is(err, exception.ErrSignalTimeout) {
				idleWaits++
				if idleWaits >= c.cfg.MaxIdleWaits {
					agg.TimedOut = true
					logger.Warnf("Scan '%s': no progress after %d waits, finalizing with timeout warning.", scanID, idleWaits)
					break
				}
				continue
			}
			c.tracer.RecordError(ctx, componentName, err)
			return nil, exception.NewOrchestrationError(componentName, "failed to receive batch completion signal", err, false)
		}

		// Addition commutes, so worker signal order never changes the aggregate.
		idleWaits = 0
		agg.Processed += sig.Processed
		agg.Skipped += sig.Skipped
		agg.Errors += sig.Errors
		agg.FlaggedCount += sig.FlaggedCount
		c.recorder.RecordSignal(ctx, TopicBatchComplete)
	}

	return c.finalize(ctx, workflowID, &agg)
}

// finalize computes terminal status, persists the aggregate as a checkpointed
// step, and emits the downstream event.
func (c *Coordinator) finalize(ctx context.Context, workflowID string, agg *model.ScanResult) (*model.ScanResult, error) {
	agg.Status = model.ScanStatusCompleted
	if agg.MessagesScanned > 0 && agg.Processed == 0 && agg.Errors > 0 {
		agg.Status = model.ScanStatusFailed
	}
	agg.CompletedAt = c.clock.Now()

	result, err := runtime.RunStep(ctx, c.rt, workflowID, "finalize", runtime.NoRetry, func(ctx context.Context) (model.ScanResult, error) {
		if err := c.repo.SaveScanResult(ctx, agg); err != nil {
			return model.ScanResult{}, err
		}
		return *agg, nil
	})
	if err != nil {
		c.tracer.RecordError(ctx, componentName, err)
		return nil, exception.NewOrchestrationError(componentName, "failed to persist scan result", err, false)
	}

	if err := c.emitter.Emit(ctx, EventScanFinished, &result); err != nil {
		logger.Warnf("Scan '%s': downstream event emission failed: %v", agg.ScanID, err)
	}
	logger.Infof("Scan '%s' finalized: status=%s processed=%d skipped=%d errors=%d flagged=%d timed_out=%t",
		agg.ScanID, result.Status, result.Processed, result.Skipped, result.Errors, result.FlaggedCount, result.TimedOut)
	return &result, nil
}
