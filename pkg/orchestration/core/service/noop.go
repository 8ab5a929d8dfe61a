package service

import (
	"context"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

// NoopScoringTrigger is a ScoringTrigger that does nothing. Used in local
// runs and tests where no scoring pipeline is attached.
type NoopScoringTrigger struct{}

func (NoopScoringTrigger) TriggerScoring(ctx context.Context, communityID string) error {
	logger.Debugf("NoopScoringTrigger: scoring trigger for community '%s' skipped.", communityID)
	return nil
}

// NoopPromotionService is a PromotionService that does nothing.
type NoopPromotionService struct{}

func (NoopPromotionService) PromoteNote(ctx context.Context, noteID string) error {
	return nil
}

// StaticContentAvailability always reports the configured availability.
type StaticContentAvailability struct {
	Available bool
}

func (s StaticContentAvailability) HasAvailableContent(ctx context.Context, communityID string) (bool, error) {
	return s.Available, nil
}

// LocalAgentProvisioner mints synthetic user profile ids without touching an
// identity backend.
type LocalAgentProvisioner struct{}

func (LocalAgentProvisioner) ProvisionAgent(ctx context.Context, communityID, agentProfileID string) (string, error) {
	return model.NewID(), nil
}

// PassthroughMessageScanner counts every message as processed without
// classifying anything. Used in local runs where no model backend is attached.
type PassthroughMessageScanner struct{}

func (PassthroughMessageScanner) ScanBatch(ctx context.Context, scanID string, messageIDs []string) (*model.BatchCompleteSignal, error) {
	return &model.BatchCompleteSignal{Processed: len(messageIDs)}, nil
}

// NoopEventEmitter drops emitted events.
type NoopEventEmitter struct{}

func (NoopEventEmitter) Emit(ctx context.Context, topic string, payload interface{}) error {
	logger.Debugf("NoopEventEmitter: event on topic '%s' dropped.", topic)
	return nil
}
