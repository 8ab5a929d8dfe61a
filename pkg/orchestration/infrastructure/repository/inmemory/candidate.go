package inmemory

import (
	"context"
	"sort"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

// SeedCandidates inserts candidate rows, assigning sequence numbers. Intended
// for tests and local runs.
func (r *InMemoryRepository) SeedCandidates(jobType string, count int, eligible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < count; i++ {
		r.nextSeq++
		r.candidates = append(r.candidates, &model.NoteCandidate{
			Seq:      r.nextSeq,
			NoteID:   model.NewID(),
			JobType:  jobType,
			Eligible: eligible,
		})
	}
}

// CountCandidates counts unprocessed candidates of the given job type, bounded by limit.
func (r *InMemoryRepository) CountCandidates(ctx context.Context, jobType string, limit int) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, c := range r.candidates {
		if c.JobType == jobType && !c.Processed {
			count++
			if count >= limit {
				break
			}
		}
	}
	return count, nil
}

// ClaimNextBatch claims up to batchSize unprocessed rows with Seq strictly
// greater than afterSeq, ordered by Seq. Rows already claimed by another
// worker are skipped, never waited on.
func (r *InMemoryRepository) ClaimNextBatch(ctx context.Context, jobType, claimerID string, afterSeq int64, batchSize int) ([]model.NoteCandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimable []*model.NoteCandidate
	for _, c := range r.candidates {
		if c.JobType != jobType || c.Processed || c.Seq <= afterSeq {
			continue
		}
		if c.ClaimedBy != "" && c.ClaimedBy != claimerID {
			continue // claimed elsewhere: skip, don't block
		}
		claimable = append(claimable, c)
	}
	sort.Slice(claimable, func(i, j int) bool { return claimable[i].Seq < claimable[j].Seq })

	if len(claimable) > batchSize {
		claimable = claimable[:batchSize]
	}
	out := make([]model.NoteCandidate, 0, len(claimable))
	for _, c := range claimable {
		c.ClaimedBy = claimerID
		out = append(out, *c)
	}
	return out, nil
}

// ApplyBatch mutates the claimed rows all-or-nothing. Only rows still
// eligible are updated; an error from the hook leaves every row untouched.
func (r *InMemoryRepository) ApplyBatch(ctx context.Context, jobType string, batch []model.NoteCandidate, perItem repository.PerItemAction) (*model.BatchApplyResult, error) {
	r.mu.Lock()
	hook := r.ApplyBatchHook
	r.mu.Unlock()

	if hook != nil {
		if err := hook(jobType, batch); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	bydSeq := make(map[int64]*model.NoteCandidate, len(r.candidates))
	for _, c := range r.candidates {
		bydSeq[c.Seq] = c
	}

	result := &model.BatchApplyResult{}
	var updated []*model.NoteCandidate
	for i := range batch {
		stored, ok := bydSeq[batch[i].Seq]
		if !ok || stored.Processed || !stored.Eligible {
			continue // predicate no longer matches: scanned, not updated
		}
		stored.Processed = true
		updated = append(updated, stored)
		result.Updated++
	}
	r.mu.Unlock()

	// Per-item follow-on actions run outside the batch mutation, isolated so
	// one failure cannot undo the batch's update.
	if perItem != nil {
		for _, c := range updated {
			if err := perItem(ctx, *c); err != nil {
				result.PromotionFailures++
				logger.Warnf("Per-item action failed for note '%s': %v", c.NoteID, err)
			}
		}
	}
	return result, nil
}
