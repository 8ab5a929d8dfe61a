package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
)

// SaveSimulationRun persists a new SimulationRun.
func (r *GormRepository) SaveSimulationRun(ctx context.Context, run *model.SimulationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// FindSimulationRunByID finds a SimulationRun by its ID.
func (r *GormRepository) FindSimulationRunByID(ctx context.Context, id string) (*model.SimulationRun, error) {
	var run model.SimulationRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSimulationRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// TransitionRunStatus atomically moves a run from any of the expected source
// statuses to the target status with a guarded UPDATE. Zero affected rows
// means the run was in none of the expected states (or does not exist).
func (r *GormRepository) TransitionRunStatus(ctx context.Context, runID string, from []model.RunStatus, to model.RunStatus) error {
	result := r.db.WithContext(ctx).
		Model(&model.SimulationRun{}).
		Where("id = ? AND status IN ?", runID, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.SimulationRun{}).Where("id = ?", runID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repository.ErrSimulationRunNotFound
		}
		return repository.ErrInvalidTransition
	}
	return nil
}

// IncrementRunAttempt atomically advances the run's execution attempt counter
// with a relative UPDATE and reads the new value back in the same transaction.
func (r *GormRepository) IncrementRunAttempt(ctx context.Context, runID string) (int, error) {
	var attempt int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.SimulationRun{}).
			Where("id = ?", runID).
			Update("attempt", gorm.Expr("attempt + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repository.ErrSimulationRunNotFound
		}
		return tx.Model(&model.SimulationRun{}).
			Select("attempt").
			Where("id = ?", runID).
			Scan(&attempt).Error
	})
	if err != nil {
		return 0, err
	}
	return attempt, nil
}

// UpdateRunMetrics persists the run's cumulative metrics.
func (r *GormRepository) UpdateRunMetrics(ctx context.Context, runID string, metrics model.RunMetrics) error {
	result := r.db.WithContext(ctx).
		Model(&model.SimulationRun{}).
		Where("id = ?", runID).
		Update("metrics", metrics)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrSimulationRunNotFound
	}
	return nil
}

// CreateAgent inserts an agent instance after re-checking the live active
// count inside the same transaction, so concurrent spawns for the same run
// cannot overshoot maxActive. Returns false without inserting at capacity.
func (r *GormRepository) CreateAgent(ctx context.Context, agent *model.SimAgentInstance, maxActive int) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := tx.Model(&model.SimAgentInstance{}).
			Where("simulation_run_id = ? AND state = ?", agent.SimulationRunID, model.AgentStateActive)
		if r.skipLocked {
			counter = counter.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var active int64
		if err := counter.Count(&active).Error; err != nil {
			return err
		}
		if int(active) >= maxActive {
			return nil
		}
		if err := tx.Create(agent).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// UpdateAgent persists an agent's mutable counters.
func (r *GormRepository) UpdateAgent(ctx context.Context, agent *model.SimAgentInstance) error {
	result := r.db.WithContext(ctx).
		Model(&model.SimAgentInstance{}).
		Where("id = ?", agent.ID).
		Updates(map[string]interface{}{
			"turn_count":  agent.TurnCount,
			"retry_count": agent.RetryCount,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrAgentNotFound
	}
	return nil
}

// RemoveAgent transitions an agent ACTIVE -> REMOVED with the given reason.
func (r *GormRepository) RemoveAgent(ctx context.Context, agentID, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&model.SimAgentInstance{}).
		Where("id = ? AND state = ?", agentID, model.AgentStateActive).
		Updates(map[string]interface{}{
			"state":          model.AgentStateRemoved,
			"removal_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrAgentNotFound
	}
	return nil
}

// FindAgentByID finds an agent instance by its ID regardless of state.
func (r *GormRepository) FindAgentByID(ctx context.Context, agentID string) (*model.SimAgentInstance, error) {
	var agent model.SimAgentInstance
	err := r.db.WithContext(ctx).First(&agent, "id = ?", agentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

// ClaimOldestActiveAgent claims the oldest active agent of a run. On backends
// with SKIP LOCKED a row already claimed by a concurrent transaction is
// skipped instead of blocking on it.
func (r *GormRepository) ClaimOldestActiveAgent(ctx context.Context, runID string) (*model.SimAgentInstance, error) {
	var agent model.SimAgentInstance
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("simulation_run_id = ? AND state = ?", runID, model.AgentStateActive).
			Order("created_at ASC, id ASC").
			Limit(1)
		if r.skipLocked {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&agent).Error; err != nil {
			return err
		}
		if agent.ID == "" {
			return repository.ErrAgentNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListActiveAgents lists a run's active agents ordered by creation time.
func (r *GormRepository) ListActiveAgents(ctx context.Context, runID string) ([]*model.SimAgentInstance, error) {
	var agents []*model.SimAgentInstance
	err := r.db.WithContext(ctx).
		Where("simulation_run_id = ? AND state = ?", runID, model.AgentStateActive).
		Order("created_at ASC, id ASC").
		Find(&agents).Error
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// SnapshotPopulation returns active / total spawned / total removed counts.
func (r *GormRepository) SnapshotPopulation(ctx context.Context, runID string) (*model.PopulationSnapshot, error) {
	snapshot := &model.PopulationSnapshot{}
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&model.SimAgentInstance{}).Where("simulation_run_id = ?", runID)
	}

	var active, total, removed int64
	if err := base().Where("state = ?", model.AgentStateActive).Count(&active).Error; err != nil {
		return nil, err
	}
	if err := base().Count(&total).Error; err != nil {
		return nil, err
	}
	if err := base().Where("state = ?", model.AgentStateRemoved).Count(&removed).Error; err != nil {
		return nil, err
	}

	snapshot.Active = int(active)
	snapshot.TotalSpawned = int(total)
	snapshot.TotalRemoved = int(removed)
	return snapshot, nil
}

// TerminalizeActiveAgents transitions all remaining active agents of a run to
// the given terminal state, returning how many rows changed.
func (r *GormRepository) TerminalizeActiveAgents(ctx context.Context, runID string, state model.AgentState, reason string) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&model.SimAgentInstance{}).
		Where("simulation_run_id = ? AND state = ?", runID, model.AgentStateActive).
		Updates(map[string]interface{}{
			"state":          state,
			"removal_reason": reason,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
