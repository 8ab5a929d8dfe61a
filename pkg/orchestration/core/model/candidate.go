package model

import "time"

// NoteCandidate is one row of a batch job's working set, e.g. a community note
// pending approval or queued for re-embedding. Seq is the stable ordering key
// batch cursors advance over.
type NoteCandidate struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	NoteID    string    `gorm:"size:36;not null;index"`
	JobType   string    `gorm:"size:64;not null;index"`
	Eligible  bool      `gorm:"not null;default:true"`
	Processed bool      `gorm:"not null;default:false"`
	ClaimedBy string    `gorm:"size:36"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// BatchApplyResult summarizes one all-or-nothing batch mutation.
type BatchApplyResult struct {
	// Updated is the number of rows that still matched the job predicate and
	// were mutated. Claimed rows that no longer matched count as scanned only.
	Updated int `json:"updated"`
	// PromotionFailures counts per-item follow-on actions that failed inside
	// their own savepoints without rolling back the batch.
	PromotionFailures int `json:"promotion_failures"`
}
