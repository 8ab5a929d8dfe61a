// Package batch implements the checkpointed batch processor: a generic
// engine that claims candidate rows in fixed-size batches, applies an
// all-or-nothing bulk update per batch, and records durable progress so a
// crashed run resumes from its last completed batch instead of starting over.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/factweave/factweave/pkg/orchestration/admission"
	"github.com/factweave/factweave/pkg/orchestration/breaker"
	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/core/metrics"
	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
	"github.com/factweave/factweave/pkg/orchestration/core/runtime"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

const componentName = "batch_processor"

// maxIterationSlack pads the static iteration bound so a run that scans a few
// non-matching rows can still drain its budget.
const maxIterationSlack = 2

// Result is the terminal summary of one batch job run.
type Result struct {
	JobID                 string          `json:"job_id"`
	Status                model.JobStatus `json:"status"`
	Updated               int             `json:"updated"`
	Failed                int             `json:"failed"`
	Scanned               int             `json:"scanned"`
	Iterations            int             `json:"iterations"`
	CircuitBreakerTripped bool            `json:"circuit_breaker_tripped"`
}

// Request describes one batch job to run.
type Request struct {
	// WorkflowID keys the run's durable checkpoints.
	WorkflowID string
	// JobType selects the candidate working set ("note_approval", "re_embedding", ...).
	JobType string
	// Limit is the approximate maximum number of rows scanned by this run.
	// The budget is decremented by rows scanned, not rows matched, and is not
	// refreshed when a batch step is retried.
	Limit int
	// PerItem, when non-nil, runs once per updated row in its own
	// savepoint-isolated sub-transaction. A per-item failure is counted, never
	// fatal to the batch.
	PerItem repository.PerItemAction
}

// prepareResult is the checkpointed outcome of job creation.
type prepareResult struct {
	JobID string `json:"job_id"`
	Total int    `json:"total"`
}

// claimResult is the checkpointed outcome of one claim step.
type claimResult struct {
	Candidates []model.NoteCandidate `json:"candidates"`
	LastSeq    int64                 `json:"last_seq"`
}

// Processor runs checkpointed batch jobs against the candidate working set.
type Processor struct {
	rt       runtime.Runtime
	repo     repository.OrchestrationRepository
	gate     *admission.Gate
	clock    runtime.Clock
	cfg      config.BatchEngineConfig
	weight   int
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

// NewProcessor creates a Processor bound to the configured batch engine settings.
func NewProcessor(
	rt runtime.Runtime,
	repo repository.OrchestrationRepository,
	gate *admission.Gate,
	clock runtime.Clock,
	cfg *config.Config,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Processor {
	return &Processor{
		rt:       rt,
		repo:     repo,
		gate:     gate,
		clock:    clock,
		cfg:      cfg.Factweave.Batch,
		weight:   cfg.Factweave.Admission.BatchJobWeight,
		recorder: recorder,
		tracer:   tracer,
	}
}

// Run executes one batch job to completion. It acquires admission capacity
// for the whole run, so the returned Result is always accompanied by a fully
// finalized (or synthesized-FAILED) job.
func (p *Processor) Run(ctx context.Context, req Request) (*Result, error) {
	var result *Result
	waitStart := p.clock.Now()
	err := p.gate.Do(ctx, admission.DefaultPool, p.weight, func(ctx context.Context) error {
		p.recorder.RecordGateWait(ctx, admission.DefaultPool, p.clock.Now().Sub(waitStart))
		var runErr error
		result, runErr = p.run(ctx, req)
		return runErr
	})
	if result == nil {
		result = &Result{Status: model.JobStatusFailed}
	}
	return result, err
}

func (p *Processor) run(ctx context.Context, req Request) (*Result, error) {
	ctx, endSpan := p.tracer.StartSpan(ctx, "batch.run")
	defer endSpan()

	p.recorder.RecordJobStart(ctx, req.JobType)
	started := p.clock.Now()

	policy := runtime.PolicyFromRetryConfig(p.cfg.Retry)

	prep, err := runtime.RunStep(ctx, p.rt, req.WorkflowID, "prepare", policy, func(ctx context.Context) (prepareResult, error) {
		return p.prepareJob(ctx, req)
	})
	if err != nil {
		p.tracer.RecordError(ctx, componentName, err)
		p.recorder.RecordJobEnd(ctx, req.JobType, model.JobStatusFailed.String(), p.clock.Now().Sub(started))
		return &Result{Status: model.JobStatusFailed}, exception.NewOrchestrationError(componentName, "failed to prepare batch job", err, false)
	}

	job := model.NewBatchJob(req.JobType, req.WorkflowID)
	job.ID = prep.JobID
	job.Status = model.JobStatusInProgress
	job.TotalTasks = prep.Total

	result, fatal := p.processLoop(ctx, req, job, policy)

	status := model.JobStatusCompleted
	if fatal || result.CircuitBreakerTripped || (result.Updated == 0 && result.Failed > 0) {
		status = model.JobStatusFailed
	}
	result.Status = status
	result.JobID = job.ID

	if _, err := runtime.RunStep(ctx, p.rt, req.WorkflowID, "finalize", policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.repo.FinalizeBatchJob(ctx, job, status)
	}); err != nil {
		p.tracer.RecordError(ctx, componentName, err)
		logger.Errorf("Batch job '%s' could not be finalized: %v", job.ID, err)
	}

	p.recorder.RecordJobEnd(ctx, req.JobType, status.String(), p.clock.Now().Sub(started))
	logger.Infof("Batch job '%s' (%s) finished: status=%s updated=%d failed=%d scanned=%d iterations=%d tripped=%t",
		job.ID, req.JobType, status, result.Updated, result.Failed, result.Scanned, result.Iterations, result.CircuitBreakerTripped)
	return result, nil
}

// prepareJob counts the working set, creates the job record, and moves it
// into IN_PROGRESS. Runs as a single checkpointed step so a replayed run
// reuses the same job id.
func (p *Processor) prepareJob(ctx context.Context, req Request) (prepareResult, error) {
	count, err := p.repo.CountCandidates(ctx, req.JobType, req.Limit)
	if err != nil {
		return prepareResult{}, err
	}
	job := model.NewBatchJob(req.JobType, req.WorkflowID)
	job.TotalTasks = count
	if err := p.repo.SaveBatchJob(ctx, job); err != nil {
		return prepareResult{}, err
	}
	if err := p.repo.StartBatchJob(ctx, job.ID); err != nil {
		return prepareResult{}, err
	}
	logger.Debugf("Batch job '%s' (%s) started with %d candidate tasks.", job.ID, req.JobType, count)
	return prepareResult{JobID: job.ID, Total: count}, nil
}

// processLoop drains the scan budget batch by batch. Each iteration is a
// claim step followed by a breaker-guarded apply step, both checkpointed.
func (p *Processor) processLoop(ctx context.Context, req Request, job *model.BatchJob, policy runtime.StepPolicy) (*Result, bool) {
	result := &Result{}
	fatal := false

	br := breaker.New(
		fmt.Sprintf("%s:%s", componentName, req.JobType),
		p.cfg.Retry.CircuitBreakerThreshold,
		time.Duration(p.cfg.Retry.CircuitBreakerResetInterval)*time.Millisecond,
		p.clock,
	)

	budget := req.Limit
	var cursor int64
	sinceFlush := 0
	maxIterations := (req.Limit+p.cfg.BatchSize-1)/p.cfg.BatchSize + maxIterationSlack

	for budget > 0 && result.Iterations < maxIterations {
		if err := br.Check(); err != nil {
			job.CircuitBreakerTripped = true
			result.CircuitBreakerTripped = true
			p.recorder.RecordBreakerTrip(ctx, componentName)
			logger.Warnf("Batch job '%s': circuit breaker open, aborting remaining batches.", job.ID)
			break
		}

		result.Iterations++
		batchSize := p.cfg.BatchSize
		if budget < batchSize {
			batchSize = budget
		}

		claim, err := runtime.RunStep(ctx, p.rt, req.WorkflowID,
			fmt.Sprintf("claim_%d", result.Iterations), policy,
			func(ctx context.Context) (claimResult, error) {
				claimed, err := p.repo.ClaimNextBatch(ctx, req.JobType, req.WorkflowID, cursor, batchSize)
				if err != nil {
					return claimResult{}, err
				}
				last := cursor
				if len(claimed) > 0 {
					last = claimed[len(claimed)-1].Seq
				}
				return claimResult{Candidates: claimed, LastSeq: last}, nil
			})
		if err != nil {
			job.RecordError(exception.ExtractErrorMessage(err))
			p.tracer.RecordError(ctx, componentName, err)
			logger.Errorf("Batch job '%s': claim step failed: %v", job.ID, err)
			fatal = true
			break
		}
		if len(claim.Candidates) == 0 {
			break
		}

		scanned := len(claim.Candidates)
		applied, err := runtime.RunStep(ctx, p.rt, req.WorkflowID,
			fmt.Sprintf("apply_%d", result.Iterations), policy,
			func(ctx context.Context) (model.BatchApplyResult, error) {
				res, err := p.repo.ApplyBatch(ctx, req.JobType, claim.Candidates, req.PerItem)
				if err != nil {
					return model.BatchApplyResult{}, err
				}
				return *res, nil
			})
		if err != nil {
			// The whole batch rolled back: every claimed row counts failed.
			br.RecordFailure()
			job.AddProgress(0, scanned)
			job.RecordError(exception.ExtractErrorMessage(err))
			result.Failed += scanned
			p.recorder.RecordBatch(ctx, req.JobType, 0, scanned)
			p.tracer.RecordError(ctx, componentName, err)
		} else {
			br.RecordSuccess()
			job.AddProgress(applied.Updated, applied.PromotionFailures)
			result.Updated += applied.Updated
			result.Failed += applied.PromotionFailures
			p.recorder.RecordBatch(ctx, req.JobType, applied.Updated, applied.PromotionFailures)
		}

		// The cursor and budget move by rows scanned regardless of outcome,
		// so a persistently failing range cannot pin the loop in place.
		cursor = claim.LastSeq
		budget -= scanned
		result.Scanned += scanned
		sinceFlush += scanned

		if sinceFlush >= p.cfg.ProgressEvery || budget <= 0 {
			sinceFlush = 0
			if err := p.repo.UpdateBatchJobProgress(ctx, job); err != nil {
				logger.Warnf("Batch job '%s': progress update failed: %v", job.ID, err)
			}
		}
	}

	return result, fatal
}
