package batch

import (
	"context"
	"fmt"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/service"
)

// Job type keys selecting a candidate working set.
const (
	JobTypeNoteApproval = "note_approval"
	JobTypeReEmbedding  = "re_embedding"
)

// RunNoteApproval runs the note-approval job: eligible candidate notes are
// marked processed and each updated note is promoted downstream. Promotion
// runs per item in its own sub-transaction, so one note's promotion failure
// never rolls back the batch.
func (p *Processor) RunNoteApproval(ctx context.Context, runID string, limit int, promoter service.PromotionService) (*Result, error) {
	return p.Run(ctx, Request{
		WorkflowID: fmt.Sprintf("note-approval-%s", runID),
		JobType:    JobTypeNoteApproval,
		Limit:      limit,
		PerItem: func(ctx context.Context, candidate model.NoteCandidate) error {
			return promoter.PromoteNote(ctx, candidate.NoteID)
		},
	})
}

// RunReEmbedding runs the re-embedding job: notes with stale embeddings are
// marked for refresh. No per-item follow-on action.
func (p *Processor) RunReEmbedding(ctx context.Context, runID string, limit int) (*Result, error) {
	return p.Run(ctx, Request{
		WorkflowID: fmt.Sprintf("re-embedding-%s", runID),
		JobType:    JobTypeReEmbedding,
		Limit:      limit,
	})
}
