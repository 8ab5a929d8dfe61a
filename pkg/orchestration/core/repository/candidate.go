package repository

import (
	"context"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
)

// PerItemAction is an optional follow-on action executed for every updated
// row (e.g., promotion). Implementations run each invocation inside its own
// savepoint-isolated sub-transaction so one item's failure cannot roll back
// the batch's successful update.
type PerItemAction func(ctx context.Context, candidate model.NoteCandidate) error

// CandidateRepository exposes the claim-and-skip working set of the
// checkpointed batch processor.
type CandidateRepository interface {
	// CountCandidates counts unprocessed candidates of the given job type,
	// bounded by limit.
	CountCandidates(ctx context.Context, jobType string, limit int) (int, error)

	// ClaimNextBatch claims up to batchSize unprocessed rows with Seq strictly
	// greater than afterSeq, ordered by Seq. Row-level claim-and-skip locking
	// guarantees concurrent workers never receive the same row.
	ClaimNextBatch(ctx context.Context, jobType, claimerID string, afterSeq int64, batchSize int) ([]model.NoteCandidate, error)

	// ApplyBatch mutates the claimed rows as a single all-or-nothing
	// transaction: only rows still matching the job predicate are updated; on
	// error the whole batch rolls back. perItem, when non-nil, runs once per
	// updated row in a nested sub-transaction.
	ApplyBatch(ctx context.Context, jobType string, batch []model.NoteCandidate, perItem PerItemAction) (*model.BatchApplyResult, error)
}
