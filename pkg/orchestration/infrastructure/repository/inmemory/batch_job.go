package inmemory

import (
	"context"
	"fmt"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
)

// SaveBatchJob persists a new BatchJob.
// It returns an error if a BatchJob with the same ID already exists.
func (r *InMemoryRepository) SaveBatchJob(ctx context.Context, job *model.BatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batchJobs[job.ID]; exists {
		return fmt.Errorf("BatchJob with ID %s already exists", job.ID)
	}
	cloned := *job
	r.batchJobs[job.ID] = &cloned
	return nil
}

// StartBatchJob atomically transitions a job PENDING -> IN_PROGRESS.
func (r *InMemoryRepository) StartBatchJob(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.batchJobs[jobID]
	if !ok {
		return repository.ErrBatchJobNotFound
	}
	if job.Status != model.JobStatusPending {
		return repository.ErrInvalidTransition
	}
	job.Status = model.JobStatusInProgress
	return nil
}

// UpdateBatchJobProgress persists the job's counters and error summary.
func (r *InMemoryRepository) UpdateBatchJobProgress(ctx context.Context, job *model.BatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batchJobs[job.ID]
	if !ok {
		return repository.ErrBatchJobNotFound
	}
	stored.TotalTasks = job.TotalTasks
	stored.CompletedTasks = job.CompletedTasks
	stored.FailedTasks = job.FailedTasks
	stored.ErrorSummary = append(model.StringList(nil), job.ErrorSummary...)
	stored.ErrorCount = job.ErrorCount
	stored.CircuitBreakerTripped = job.CircuitBreakerTripped
	return nil
}

// FinalizeBatchJob atomically transitions a job IN_PROGRESS -> terminal status
// and persists its final counters.
func (r *InMemoryRepository) FinalizeBatchJob(ctx context.Context, job *model.BatchJob, status model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batchJobs[job.ID]
	if !ok {
		return repository.ErrBatchJobNotFound
	}
	if stored.Status != model.JobStatusInProgress {
		return repository.ErrInvalidTransition
	}
	stored.Status = status
	stored.TotalTasks = job.TotalTasks
	stored.CompletedTasks = job.CompletedTasks
	stored.FailedTasks = job.FailedTasks
	stored.ErrorSummary = append(model.StringList(nil), job.ErrorSummary...)
	stored.ErrorCount = job.ErrorCount
	stored.CircuitBreakerTripped = job.CircuitBreakerTripped
	return nil
}

// FindBatchJobByID finds a BatchJob by its ID.
func (r *InMemoryRepository) FindBatchJobByID(ctx context.Context, id string) (*model.BatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.batchJobs[id]
	if !ok {
		return nil, repository.ErrBatchJobNotFound
	}
	cloned := *job
	cloned.ErrorSummary = append(model.StringList(nil), job.ErrorSummary...)
	return &cloned, nil
}
