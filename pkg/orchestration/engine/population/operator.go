package population

import (
	"context"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

// Operator exposes the cooperative run controls. Each control flips the run's
// persisted status; the control loop observes the change at its next loop-top
// status check, so up to one iteration of non-critical work may still execute.
type Operator struct {
	repo repository.SimulationRepository
}

// NewOperator creates an Operator over the simulation repository.
func NewOperator(repo repository.OrchestrationRepository) *Operator {
	return &Operator{repo: repo}
}

// Start creates a new pending run with the given config snapshot. The
// orchestrator captures this snapshot and never re-reads live configuration.
func (op *Operator) Start(ctx context.Context, cfg model.SimulationConfig) (*model.SimulationRun, error) {
	run := model.NewSimulationRun(cfg)
	if err := op.repo.SaveSimulationRun(ctx, run); err != nil {
		return nil, err
	}
	logger.Infof("Simulation run '%s' created (max_agents=%d, cadence=%ds).", run.ID, cfg.MaxAgents, cfg.TurnCadenceSeconds)
	return run, nil
}

// Pause requests a running run to pause.
func (op *Operator) Pause(ctx context.Context, runID string) error {
	return op.repo.TransitionRunStatus(ctx, runID,
		[]model.RunStatus{model.RunStatusRunning}, model.RunStatusPaused)
}

// Resume requests a paused run to continue. Resuming opens a fresh execution
// attempt so the next orchestrator execution starts from live state instead
// of replaying the checkpoints that led to the pause.
func (op *Operator) Resume(ctx context.Context, runID string) error {
	if err := op.repo.TransitionRunStatus(ctx, runID,
		[]model.RunStatus{model.RunStatusPaused}, model.RunStatusRunning); err != nil {
		return err
	}
	if _, err := op.repo.IncrementRunAttempt(ctx, runID); err != nil {
		return err
	}
	logger.Infof("Simulation run '%s' resumed.", runID)
	return nil
}

// Cancel requests a pending, running, or paused run to stop. The loop
// finalizes with CANCELLED at its next status check.
func (op *Operator) Cancel(ctx context.Context, runID string) error {
	return op.repo.TransitionRunStatus(ctx, runID,
		[]model.RunStatus{model.RunStatusPending, model.RunStatusRunning, model.RunStatusPaused},
		model.RunStatusCancelled)
}
