package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

// CountCandidates counts unprocessed candidates of the given job type, bounded by limit.
func (r *GormRepository) CountCandidates(ctx context.Context, jobType string, limit int) (int, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.NoteCandidate{}).
		Where("job_type = ? AND processed = ?", jobType, false).
		Limit(limit).
		Pluck("seq", &ids).Error
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ClaimNextBatch claims up to batchSize unprocessed rows with Seq strictly
// greater than afterSeq, ordered by Seq. On PostgreSQL the select runs with
// FOR UPDATE SKIP LOCKED so concurrent claimers each grab disjoint rows
// without blocking on rows already claimed.
func (r *GormRepository) ClaimNextBatch(ctx context.Context, jobType, claimerID string, afterSeq int64, batchSize int) ([]model.NoteCandidate, error) {
	var claimed []model.NoteCandidate

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("job_type = ? AND processed = ? AND seq > ?", jobType, false, afterSeq).
			Where("claimed_by = '' OR claimed_by IS NULL OR claimed_by = ?", claimerID).
			Order("seq ASC").
			Limit(batchSize)
		if r.skipLocked {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		seqs := make([]int64, 0, len(claimed))
		for i := range claimed {
			seqs = append(seqs, claimed[i].Seq)
			claimed[i].ClaimedBy = claimerID
		}
		return tx.Model(&model.NoteCandidate{}).
			Where("seq IN ?", seqs).
			Update("claimed_by", claimerID).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ApplyBatch mutates the claimed rows as a single all-or-nothing transaction.
// Rows that no longer match the job predicate are left untouched and count as
// scanned only. perItem runs once per updated row inside its own savepoint so
// one item's failure cannot roll back the batch's update.
func (r *GormRepository) ApplyBatch(ctx context.Context, jobType string, batch []model.NoteCandidate, perItem repository.PerItemAction) (*model.BatchApplyResult, error) {
	result := &model.BatchApplyResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var updated []model.NoteCandidate
		for i := range batch {
			res := tx.Model(&model.NoteCandidate{}).
				Where("seq = ? AND processed = ? AND eligible = ?", batch[i].Seq, false, true).
				Update("processed", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				result.Updated++
				updated = append(updated, batch[i])
			}
		}

		if perItem == nil {
			return nil
		}
		for i, c := range updated {
			sp := fmt.Sprintf("item_%d", i)
			if err := tx.SavePoint(sp).Error; err != nil {
				return err
			}
			if err := perItem(ctx, c); err != nil {
				if rbErr := tx.RollbackTo(sp).Error; rbErr != nil {
					return rbErr
				}
				result.PromotionFailures++
				logger.Warnf("Per-item action failed for note '%s' (savepoint rolled back): %v", c.NoteID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
