package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
)

// SaveBatchJob persists a new BatchJob.
func (r *GormRepository) SaveBatchJob(ctx context.Context, job *model.BatchJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// StartBatchJob atomically transitions a job PENDING -> IN_PROGRESS.
// A guarded UPDATE that matches no row means the job was not PENDING.
func (r *GormRepository) StartBatchJob(ctx context.Context, jobID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.BatchJob{}).
		Where("id = ? AND status = ?", jobID, model.JobStatusPending).
		Update("status", model.JobStatusInProgress)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.BatchJob{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repository.ErrBatchJobNotFound
		}
		return repository.ErrInvalidTransition
	}
	return nil
}

// UpdateBatchJobProgress persists the job's counters and error summary.
func (r *GormRepository) UpdateBatchJobProgress(ctx context.Context, job *model.BatchJob) error {
	result := r.db.WithContext(ctx).
		Model(&model.BatchJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"total_tasks":             job.TotalTasks,
			"completed_tasks":         job.CompletedTasks,
			"failed_tasks":            job.FailedTasks,
			"error_summary":           job.ErrorSummary,
			"error_count":             job.ErrorCount,
			"circuit_breaker_tripped": job.CircuitBreakerTripped,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrBatchJobNotFound
	}
	return nil
}

// FinalizeBatchJob atomically transitions a job IN_PROGRESS -> terminal status
// and persists its final counters.
func (r *GormRepository) FinalizeBatchJob(ctx context.Context, job *model.BatchJob, status model.JobStatus) error {
	result := r.db.WithContext(ctx).
		Model(&model.BatchJob{}).
		Where("id = ? AND status = ?", job.ID, model.JobStatusInProgress).
		Updates(map[string]interface{}{
			"status":                  status,
			"total_tasks":             job.TotalTasks,
			"completed_tasks":         job.CompletedTasks,
			"failed_tasks":            job.FailedTasks,
			"error_summary":           job.ErrorSummary,
			"error_count":             job.ErrorCount,
			"circuit_breaker_tripped": job.CircuitBreakerTripped,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

// FindBatchJobByID finds a BatchJob by its ID.
func (r *GormRepository) FindBatchJobByID(ctx context.Context, id string) (*model.BatchJob, error) {
	var job model.BatchJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrBatchJobNotFound
		}
		return nil, err
	}
	return &job, nil
}
