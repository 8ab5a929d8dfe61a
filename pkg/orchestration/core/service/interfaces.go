// Package service defines the downstream collaborator boundaries the
// orchestrators invoke as opaque calls returning small summaries. Scoring,
// promotion, availability checks and event emission are external systems;
// only their interfaces live in this repository.
package service

import (
	"context"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
)

// ScoringTrigger kicks the external note-scoring pipeline for a community.
// Invoked best-effort: failures are logged and swallowed by callers.
type ScoringTrigger interface {
	TriggerScoring(ctx context.Context, communityID string) error
}

// PromotionService promotes a single approved note downstream. Invoked once
// per updated row inside its own sub-transaction.
type PromotionService interface {
	PromoteNote(ctx context.Context, noteID string) error
}

// ContentAvailability reports whether a community currently has content for
// simulated agents to act on.
type ContentAvailability interface {
	HasAvailableContent(ctx context.Context, communityID string) (bool, error)
}

// AgentProvisioner atomically creates the participant identity backing a
// spawned agent (user profile plus community membership) and returns the new
// user profile id.
type AgentProvisioner interface {
	ProvisionAgent(ctx context.Context, communityID, agentProfileID string) (userProfileID string, err error)
}

// MessageScanner classifies one batch of messages during a content scan.
type MessageScanner interface {
	ScanBatch(ctx context.Context, scanID string, messageIDs []string) (*model.BatchCompleteSignal, error)
}

// EventEmitter publishes downstream platform events (scan finished, run
// finished). Transport is out of scope; implementations adapt the message bus.
type EventEmitter interface {
	Emit(ctx context.Context, topic string, payload interface{}) error
}
