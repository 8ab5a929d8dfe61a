package repository

import (
	"context"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
)

// BatchJobRepository persists checkpointed batch job metadata.
type BatchJobRepository interface {
	// SaveBatchJob persists a new BatchJob in PENDING state.
	SaveBatchJob(ctx context.Context, job *model.BatchJob) error

	// StartBatchJob atomically transitions a job PENDING -> IN_PROGRESS.
	// It returns ErrInvalidTransition if the job was not PENDING.
	StartBatchJob(ctx context.Context, jobID string) error

	// UpdateBatchJobProgress persists the job's counters and error summary.
	UpdateBatchJobProgress(ctx context.Context, job *model.BatchJob) error

	// FinalizeBatchJob atomically transitions a job IN_PROGRESS -> COMPLETED/FAILED
	// and persists its final counters. It returns ErrInvalidTransition if the
	// job was not IN_PROGRESS.
	FinalizeBatchJob(ctx context.Context, job *model.BatchJob, status model.JobStatus) error

	// FindBatchJobByID finds a BatchJob by its ID.
	FindBatchJobByID(ctx context.Context, id string) (*model.BatchJob, error)
}
