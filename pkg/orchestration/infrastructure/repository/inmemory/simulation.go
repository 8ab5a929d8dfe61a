package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
)

// SaveSimulationRun persists a new SimulationRun.
func (r *InMemoryRepository) SaveSimulationRun(ctx context.Context, run *model.SimulationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("SimulationRun with ID %s already exists", run.ID)
	}
	cloned := *run
	r.runs[run.ID] = &cloned
	return nil
}

// FindSimulationRunByID finds a SimulationRun by its ID.
func (r *InMemoryRepository) FindSimulationRunByID(ctx context.Context, id string) (*model.SimulationRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, repository.ErrSimulationRunNotFound
	}
	cloned := *run
	return &cloned, nil
}

// TransitionRunStatus atomically moves a run from any of the expected source
// statuses to the target status.
func (r *InMemoryRepository) TransitionRunStatus(ctx context.Context, runID string, from []model.RunStatus, to model.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return repository.ErrSimulationRunNotFound
	}
	for _, f := range from {
		if run.Status == f {
			run.Status = to
			return nil
		}
	}
	return repository.ErrInvalidTransition
}

// IncrementRunAttempt atomically advances the run's execution attempt counter.
func (r *InMemoryRepository) IncrementRunAttempt(ctx context.Context, runID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return 0, repository.ErrSimulationRunNotFound
	}
	run.Attempt++
	return run.Attempt, nil
}

// UpdateRunMetrics persists the run's cumulative metrics.
func (r *InMemoryRepository) UpdateRunMetrics(ctx context.Context, runID string, metrics model.RunMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return repository.ErrSimulationRunNotFound
	}
	merged := make(model.RunMetrics, len(metrics))
	for k, v := range metrics {
		merged[k] = v
	}
	run.Metrics = merged
	return nil
}

// CreateAgent inserts an agent instance, re-checking the live active count
// under the lock so concurrent spawns never overshoot maxActive.
func (r *InMemoryRepository) CreateAgent(ctx context.Context, agent *model.SimAgentInstance, maxActive int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, a := range r.agents {
		if a.SimulationRunID == agent.SimulationRunID && a.State == model.AgentStateActive {
			active++
		}
	}
	if active >= maxActive {
		return false, nil
	}
	cloned := *agent
	r.agents[agent.ID] = &cloned
	return true, nil
}

// UpdateAgent persists an agent's mutable counters.
func (r *InMemoryRepository) UpdateAgent(ctx context.Context, agent *model.SimAgentInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.agents[agent.ID]
	if !ok {
		return repository.ErrAgentNotFound
	}
	stored.TurnCount = agent.TurnCount
	stored.RetryCount = agent.RetryCount
	stored.State = agent.State
	stored.RemovalReason = agent.RemovalReason
	return nil
}

// RemoveAgent transitions an agent to REMOVED with the given reason.
func (r *InMemoryRepository) RemoveAgent(ctx context.Context, agentID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.agents[agentID]
	if !ok {
		return repository.ErrAgentNotFound
	}
	stored.State = model.AgentStateRemoved
	stored.RemovalReason = reason
	return nil
}

// FindAgentByID finds an agent instance by its ID regardless of state.
func (r *InMemoryRepository) FindAgentByID(ctx context.Context, agentID string) (*model.SimAgentInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.agents[agentID]
	if !ok {
		return nil, repository.ErrAgentNotFound
	}
	cloned := *stored
	return &cloned, nil
}

// ClaimOldestActiveAgent claims the single oldest active agent of a run.
func (r *InMemoryRepository) ClaimOldestActiveAgent(ctx context.Context, runID string) (*model.SimAgentInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *model.SimAgentInstance
	for _, a := range r.agents {
		if a.SimulationRunID != runID || a.State != model.AgentStateActive {
			continue
		}
		if oldest == nil || a.CreatedAt.Before(oldest.CreatedAt) || (a.CreatedAt.Equal(oldest.CreatedAt) && a.ID < oldest.ID) {
			oldest = a
		}
	}
	if oldest == nil {
		return nil, repository.ErrAgentNotFound
	}
	cloned := *oldest
	return &cloned, nil
}

// ListActiveAgents lists a run's active agents ordered by creation time.
func (r *InMemoryRepository) ListActiveAgents(ctx context.Context, runID string) ([]*model.SimAgentInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.SimAgentInstance
	for _, a := range r.agents {
		if a.SimulationRunID == runID && a.State == model.AgentStateActive {
			cloned := *a
			out = append(out, &cloned)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SnapshotPopulation returns active / total spawned / total removed counts.
func (r *InMemoryRepository) SnapshotPopulation(ctx context.Context, runID string) (*model.PopulationSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &model.PopulationSnapshot{}
	for _, a := range r.agents {
		if a.SimulationRunID != runID {
			continue
		}
		snap.TotalSpawned++
		switch a.State {
		case model.AgentStateActive:
			snap.Active++
		case model.AgentStateRemoved:
			snap.TotalRemoved++
		}
	}
	return snap, nil
}

// TerminalizeActiveAgents transitions all remaining active agents of a run to
// the given terminal state with a reason.
func (r *InMemoryRepository) TerminalizeActiveAgents(ctx context.Context, runID string, state model.AgentState, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, a := range r.agents {
		if a.SimulationRunID == runID && a.State == model.AgentStateActive {
			a.State = state
			a.RemovalReason = reason
			changed++
		}
	}
	return changed, nil
}
