package repository

import (
	"context"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
)

// SimulationRepository persists simulation runs and their agent instances.
type SimulationRepository interface {
	// SaveSimulationRun persists a new SimulationRun.
	SaveSimulationRun(ctx context.Context, run *model.SimulationRun) error

	// FindSimulationRunByID finds a SimulationRun by its ID.
	FindSimulationRunByID(ctx context.Context, id string) (*model.SimulationRun, error)

	// TransitionRunStatus atomically moves a run from any of the expected
	// source statuses to the target status. It returns ErrInvalidTransition
	// if the run was in none of them. Guards double-start.
	TransitionRunStatus(ctx context.Context, runID string, from []model.RunStatus, to model.RunStatus) error

	// IncrementRunAttempt atomically advances the run's execution attempt
	// counter and returns the new value. A new attempt starts a fresh
	// checkpoint scope; see model.PopulationWorkflowID.
	IncrementRunAttempt(ctx context.Context, runID string) (int, error)

	// UpdateRunMetrics persists the run's cumulative metrics.
	UpdateRunMetrics(ctx context.Context, runID string, metrics model.RunMetrics) error

	// CreateAgent inserts an agent instance, re-checking the live active count
	// under the write path so concurrent spawns never overshoot maxActive.
	// It returns false without inserting when the run is already at capacity.
	CreateAgent(ctx context.Context, agent *model.SimAgentInstance, maxActive int) (bool, error)

	// UpdateAgent persists an agent's mutable counters (turn count, retry count).
	UpdateAgent(ctx context.Context, agent *model.SimAgentInstance) error

	// RemoveAgent transitions an agent to REMOVED with the given reason.
	RemoveAgent(ctx context.Context, agentID, reason string) error

	// FindAgentByID finds an agent instance by its ID regardless of state.
	FindAgentByID(ctx context.Context, agentID string) (*model.SimAgentInstance, error)

	// ClaimOldestActiveAgent claims the single oldest active agent of a run
	// using claim-and-skip locking, so two removal attempts never collide.
	// It returns ErrAgentNotFound when no agent could be claimed.
	ClaimOldestActiveAgent(ctx context.Context, runID string) (*model.SimAgentInstance, error)

	// ListActiveAgents lists a run's active agents ordered by creation time.
	ListActiveAgents(ctx context.Context, runID string) ([]*model.SimAgentInstance, error)

	// SnapshotPopulation returns active / total spawned / total removed counts.
	SnapshotPopulation(ctx context.Context, runID string) (*model.PopulationSnapshot, error)

	// TerminalizeActiveAgents transitions all remaining active agents of a run
	// to the given terminal state with a reason, returning how many changed.
	TerminalizeActiveAgents(ctx context.Context, runID string, state model.AgentState, reason string) (int, error)
}
