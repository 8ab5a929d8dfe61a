// Package population implements the simulation control loop: a bounded
// cooperative loop that spawns simulated agents, evicts them probabilistically,
// schedules their turns as independently dispatched workflows, and finalizes
// the owning run with a guaranteed terminal outcome.
package population

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/factweave/factweave/pkg/orchestration/admission"
	"github.com/factweave/factweave/pkg/orchestration/breaker"
	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/core/metrics"
	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
	"github.com/factweave/factweave/pkg/orchestration/core/runtime"
	"github.com/factweave/factweave/pkg/orchestration/core/service"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

const componentName = "population_orchestrator"

// TurnWorkflowName is the registered handler name for agent turn workflows.
const TurnWorkflowName = "agent_turn"

// RunResult is the terminal summary of one population workflow execution.
// The workflow always completes with a RunResult; finalization failures
// degrade into a synthesized failed result rather than an escaping error.
type RunResult struct {
	RunID              string          `json:"run_id"`
	Status             model.RunStatus `json:"status"`
	Iterations         int             `json:"iterations"`
	AgentsTerminalized int             `json:"agents_terminalized"`
	Synthesized        bool            `json:"synthesized"`
}

// TurnArgs is the argument payload of a dispatched agent turn.
type TurnArgs struct {
	RunID       string `json:"run_id"`
	AgentID     string `json:"agent_id"`
	Turn        int    `json:"turn"`
	Retry       int    `json:"retry"`
	CommunityID string `json:"community_id"`
}

// Orchestrator drives the population simulation loop for one run at a time.
type Orchestrator struct {
	rt           runtime.Runtime
	repo         repository.OrchestrationRepository
	gate         *admission.Gate
	clock        runtime.Clock
	cfg          config.PopulationConfig
	weight       int
	provisioner  service.AgentProvisioner
	availability service.ContentAvailability
	scoring      service.ScoringTrigger
	recorder     metrics.MetricRecorder
	tracer       metrics.Tracer

	// randFloat drives the probabilistic removal draw. Tests replace it; the
	// draw itself runs inside a checkpointed step so replay is deterministic.
	randFloat func() float64
}

// NewOrchestrator creates an Orchestrator bound to the configured population
// settings.
func NewOrchestrator(
	rt runtime.Runtime,
	repo repository.OrchestrationRepository,
	gate *admission.Gate,
	clock runtime.Clock,
	cfg *config.Config,
	provisioner service.AgentProvisioner,
	availability service.ContentAvailability,
	scoring service.ScoringTrigger,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Orchestrator {
	return &Orchestrator{
		rt:           rt,
		repo:         repo,
		gate:         gate,
		clock:        clock,
		cfg:          cfg.Factweave.Population,
		weight:       cfg.Factweave.Admission.PopulationWeight,
		provisioner:  provisioner,
		availability: availability,
		scoring:      scoring,
		recorder:     recorder,
		tracer:       tracer,
		randFloat:    rand.Float64,
	}
}

// SetRandom replaces the removal probability source. Tests use this to make
// the eviction draw deterministic.
func (o *Orchestrator) SetRandom(fn func() float64) {
	o.randFloat = fn
}

// Run executes the population workflow for the given run until it reaches a
// terminal status, is paused out by an empty-content streak, or exhausts
// MaxIterations. The whole body holds admission capacity.
func (o *Orchestrator) Run(ctx context.Context, runID string) (*RunResult, error) {
	var result *RunResult
	err := o.gate.Do(ctx, admission.DefaultPool, o.weight, func(ctx context.Context) error {
		result = o.run(ctx, runID)
		return nil
	})
	if err != nil {
		// Admission failure only: no run state was touched.
		return nil, err
	}
	return result, nil
}

// loopOutcome tells the finalizer how the loop ended.
type loopOutcome struct {
	status     model.RunStatus
	iterations int
	// pausedStop is the empty-content stop: the run is left PAUSED and its
	// agents stay active so the run can be resumed.
	pausedStop bool
}

func (o *Orchestrator) run(ctx context.Context, runID string) *RunResult {
	ctx, endSpan := o.tracer.StartSpan(ctx, "population.run")
	defer endSpan()

	run, err := o.repo.FindSimulationRunByID(ctx, runID)
	if err != nil {
		logger.Errorf("Population run '%s': could not load run: %v", runID, err)
		return &RunResult{RunID: runID, Status: model.RunStatusFailed, Synthesized: true}
	}

	// Checkpoints are scoped to an execution attempt. A first start opens a
	// fresh attempt; a crashed execution left the run RUNNING and keeps its
	// attempt so the recorded steps replay. Operator.Resume opens the fresh
	// attempt for resumed runs before they reach this point.
	attempt := run.Attempt
	if run.Status == model.RunStatusPending {
		attempt, err = o.repo.IncrementRunAttempt(ctx, runID)
		if err != nil {
			logger.Errorf("Population run '%s': could not open execution attempt: %v", runID, err)
			return &RunResult{RunID: runID, Status: model.RunStatusFailed, Synthesized: true}
		}
	}

	outcome := o.loop(ctx, run, attempt)

	if outcome.pausedStop {
		return &RunResult{RunID: runID, Status: model.RunStatusPaused, Iterations: outcome.iterations}
	}
	return o.finalize(ctx, runID, outcome)
}

func (o *Orchestrator) loop(ctx context.Context, run *model.SimulationRun, attempt int) loopOutcome {
	runID := run.ID
	simCfg := run.Config
	workflowID := model.PopulationWorkflowID(runID, attempt)
	cadence := time.Duration(simCfg.TurnCadenceSeconds) * time.Second
	policy := runtime.PolicyFromRetryConfig(o.cfg.Retry)

	br := breaker.New(
		fmt.Sprintf("%s:%s", componentName, runID),
		o.cfg.Retry.CircuitBreakerThreshold,
		time.Duration(o.cfg.Retry.CircuitBreakerResetInterval)*time.Millisecond,
		o.clock,
	)

	emptyStreak := 0
	profileIdx := 0

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		stepName := func(name string) string { return fmt.Sprintf("%s_%d", name, iteration) }

		// Idempotent start: pending or running collapses to running. A paused
		// or terminal run matches no row and is handled by the status gate.
		if err := o.repo.TransitionRunStatus(ctx, runID, []model.RunStatus{model.RunStatusPending, model.RunStatusRunning}, model.RunStatusRunning); err != nil && err != repository.ErrInvalidTransition {
			logger.Errorf("Population run '%s': start transition failed: %v", runID, err)
			return loopOutcome{status: model.RunStatusFailed, iterations: iteration}
		}

		status, err := runtime.RunStep(ctx, o.rt, workflowID, stepName("status"), policy, func(ctx context.Context) (model.RunStatus, error) {
			current, err := o.repo.FindSimulationRunByID(ctx, runID)
			if err != nil {
				return "", err
			}
			return current.Status, nil
		})
		if err != nil {
			logger.Errorf("Population run '%s': status read failed: %v", runID, err)
			return loopOutcome{status: model.RunStatusFailed, iterations: iteration}
		}
		if status.IsTerminal() {
			logger.Infof("Population run '%s': observed terminal status %s, exiting loop.", runID, status)
			return loopOutcome{status: status, iterations: iteration}
		}
		if status == model.RunStatusPaused {
			if err := o.rt.Sleep(ctx, cadence); err != nil {
				return loopOutcome{status: model.RunStatusCancelled, iterations: iteration}
			}
			continue
		}

		available, err := runtime.RunStep(ctx, o.rt, workflowID, stepName("availability"), policy, func(ctx context.Context) (bool, error) {
			return o.availability.HasAvailableContent(ctx, simCfg.CommunityID)
		})
		if err != nil {
			logger.Warnf("Population run '%s': availability check failed, treating as empty: %v", runID, err)
			available = false
		}
		if available {
			emptyStreak = 0
		} else {
			emptyStreak++
			if emptyStreak >= o.cfg.MaxConsecutiveEmpty {
				logger.Infof("Population run '%s': no content for %d consecutive checks, pausing.", runID, emptyStreak)
				if err := o.repo.TransitionRunStatus(ctx, runID, []model.RunStatus{model.RunStatusRunning}, model.RunStatusPaused); err != nil {
					logger.Warnf("Population run '%s': pause transition failed: %v", runID, err)
				}
				return loopOutcome{iterations: iteration, pausedStop: true}
			}
		}

		snapshot, err := runtime.RunStep(ctx, o.rt, workflowID, stepName("snapshot"), policy, func(ctx context.Context) (model.PopulationSnapshot, error) {
			s, err := o.repo.SnapshotPopulation(ctx, runID)
			if err != nil {
				return model.PopulationSnapshot{}, err
			}
			return *s, nil
		})
		if err != nil {
			logger.Errorf("Population run '%s': snapshot failed: %v", runID, err)
			return loopOutcome{status: model.RunStatusFailed, iterations: iteration}
		}
		o.recorder.RecordIteration(ctx, runID, snapshot.Active)

		spawn, err := runtime.RunStep(ctx, o.rt, workflowID, stepName("spawn"), policy, func(ctx context.Context) (spawnResult, error) {
			return o.spawnAgents(ctx, runID, simCfg, profileIdx)
		})
		if err != nil {
			logger.Warnf("Population run '%s': spawn step failed: %v", runID, err)
		} else {
			// The round-robin cursor rides in the checkpointed result so replay
			// reconstructs it instead of restarting the profile cycle.
			profileIdx = spawn.NextProfile
			if spawn.Spawned > 0 {
				logger.Debugf("Population run '%s': spawned %d agents (active was %d).", runID, spawn.Spawned, snapshot.Active)
			}
		}

		if _, err := runtime.RunStep(ctx, o.rt, workflowID, stepName("removal"), policy, func(ctx context.Context) (bool, error) {
			return o.maybeRemoveOldest(ctx, runID, simCfg)
		}); err != nil {
			logger.Warnf("Population run '%s': removal step failed: %v", runID, err)
		}

		agents, err := runtime.RunStep(ctx, o.rt, workflowID, stepName("reconcile"), policy, func(ctx context.Context) ([]*model.SimAgentInstance, error) {
			return o.reconcileTurnOutcomes(ctx, runID)
		})
		if err != nil {
			logger.Warnf("Population run '%s': turn reconciliation failed: %v", runID, err)
			agents = nil
		}

		o.scheduleTurns(ctx, workflowID, stepName("dispatch"), br, runID, simCfg, agents, policy)

		// Best-effort metrics and scoring: failures are logged and swallowed.
		metricsUpdate := model.RunMetrics{
			"iterations":    iteration,
			"active":        snapshot.Active,
			"total_spawned": snapshot.TotalSpawned,
			"total_removed": snapshot.TotalRemoved,
		}
		if err := o.repo.UpdateRunMetrics(ctx, runID, metricsUpdate); err != nil {
			logger.Warnf("Population run '%s': metrics update failed: %v", runID, err)
		}
		if o.cfg.ScoringInterval > 0 && iteration%o.cfg.ScoringInterval == 0 {
			if err := o.scoring.TriggerScoring(ctx, simCfg.CommunityID); err != nil {
				logger.Warnf("Population run '%s': scoring trigger failed: %v", runID, err)
			}
		}

		// The sole suspension point. Cancellation and pause requests are
		// observed at the next loop top.
		if err := o.rt.Sleep(ctx, cadence); err != nil {
			return loopOutcome{status: model.RunStatusCancelled, iterations: iteration}
		}
	}

	logger.Infof("Population run '%s': iteration bound %d reached, completing.", runID, o.cfg.MaxIterations)
	return loopOutcome{status: model.RunStatusCompleted, iterations: o.cfg.MaxIterations}
}

// spawnResult is the checkpointed outcome of one spawn step. NextProfile
// carries the round-robin cursor so a replayed step restores it without
// re-executing the spawns.
type spawnResult struct {
	Spawned     int `json:"spawned"`
	NextProfile int `json:"next_profile"`
}

// spawnAgents provisions and inserts up to SpawnBatchSize agents, cycling
// round-robin through the configured profiles starting at profileIdx. The
// repository re-checks the live active count under the write path, so
// MaxAgents is never overshot even with concurrent writers.
func (o *Orchestrator) spawnAgents(ctx context.Context, runID string, simCfg model.SimulationConfig, profileIdx int) (spawnResult, error) {
	result := spawnResult{NextProfile: profileIdx}
	if len(simCfg.AgentProfileIDs) == 0 {
		return result, nil
	}
	for i := 0; i < o.cfg.SpawnBatchSize; i++ {
		profileID := simCfg.AgentProfileIDs[result.NextProfile%len(simCfg.AgentProfileIDs)]
		result.NextProfile++

		userProfileID, err := o.provisioner.ProvisionAgent(ctx, simCfg.CommunityID, profileID)
		if err != nil {
			return result, exception.NewOrchestrationError(componentName, "failed to provision agent identity", err, true)
		}
		agent := model.NewSimAgentInstance(runID, profileID, userProfileID)
		created, err := o.repo.CreateAgent(ctx, agent, simCfg.MaxAgents)
		if err != nil {
			return result, err
		}
		if !created {
			// At capacity: further spawn attempts this iteration are futile.
			break
		}
		result.Spawned++
	}
	return result, nil
}

// maybeRemoveOldest draws against RemovalRate and, on a hit, evicts the
// single oldest active agent via claim-and-skip. Removal is skipped below two
// active agents so the population cannot be drained to zero by chance.
func (o *Orchestrator) maybeRemoveOldest(ctx context.Context, runID string, simCfg model.SimulationConfig) (bool, error) {
	if o.randFloat() >= simCfg.RemovalRate {
		return false, nil
	}
	snapshot, err := o.repo.SnapshotPopulation(ctx, runID)
	if err != nil {
		return false, err
	}
	if snapshot.Active < 2 {
		return false, nil
	}
	agent, err := o.repo.ClaimOldestActiveAgent(ctx, runID)
	if err != nil {
		if err == repository.ErrAgentNotFound {
			return false, nil
		}
		return false, err
	}
	if err := o.repo.RemoveAgent(ctx, agent.ID, model.RemovalReasonRandom); err != nil {
		return false, err
	}
	logger.Debugf("Population run '%s': evicted oldest agent '%s'.", runID, agent.ID)
	return true, nil
}

// reconcileTurnOutcomes inspects the durable status of every active agent's
// most recently dispatched turn. A completed turn advances the turn counter
// and clears retries; a failed turn increments the retry counter.
func (o *Orchestrator) reconcileTurnOutcomes(ctx context.Context, runID string) ([]*model.SimAgentInstance, error) {
	agents, err := o.repo.ListActiveAgents(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, agent := range agents {
		turnID := model.TurnWorkflowID(agent.ID, agent.TurnCount, agent.RetryCount)
		switch o.rt.Status(turnID) {
		case runtime.WorkflowStatusCompleted:
			agent.TurnCount++
			agent.RetryCount = 0
			if err := o.repo.UpdateAgent(ctx, agent); err != nil {
				logger.Warnf("Population run '%s': agent '%s' turn advance failed: %v", runID, agent.ID, err)
			}
		case runtime.WorkflowStatusFailed:
			agent.RetryCount++
			if err := o.repo.UpdateAgent(ctx, agent); err != nil {
				logger.Warnf("Population run '%s': agent '%s' retry increment failed: %v", runID, agent.ID, err)
			}
		}
	}
	return agents, nil
}

// scheduleTurns dispatches the next turn for every eligible active agent.
// This is the loop's only breaker-guarded step: an open breaker skips
// scheduling for the iteration without failing the run.
func (o *Orchestrator) scheduleTurns(ctx context.Context, workflowID, stepName string, br *breaker.CircuitBreaker, runID string, simCfg model.SimulationConfig, agents []*model.SimAgentInstance, policy runtime.StepPolicy) {
	if err := br.Check(); err != nil {
		o.recorder.RecordBreakerTrip(ctx, componentName)
		logger.Warnf("Population run '%s': circuit breaker open, skipping turn scheduling this iteration.", runID)
		return
	}

	_, err := runtime.RunStep(ctx, o.rt, workflowID, stepName, policy, func(ctx context.Context) (int, error) {
		dispatched := 0
		for _, agent := range agents {
			if agent.TurnCount >= simCfg.MaxTurnsPerAgent {
				continue
			}
			if agent.RetryCount >= o.cfg.MaxTurnRetries {
				if err := o.repo.RemoveAgent(ctx, agent.ID, model.RemovalReasonMaxRetries); err != nil {
					logger.Warnf("Population run '%s': eviction of agent '%s' failed: %v", runID, agent.ID, err)
				}
				continue
			}
			turnID := model.TurnWorkflowID(agent.ID, agent.TurnCount, agent.RetryCount)
			if st := o.rt.Status(turnID); st == runtime.WorkflowStatusPending || st == runtime.WorkflowStatusRunning {
				continue
			}
			if _, err := o.rt.Enqueue(ctx, runtime.EnqueueRequest{
				Pool:         admission.DefaultPool,
				WorkflowName: TurnWorkflowName,
				WorkflowID:   turnID,
				Args: TurnArgs{
					RunID:       runID,
					AgentID:     agent.ID,
					Turn:        agent.TurnCount,
					Retry:       agent.RetryCount,
					CommunityID: simCfg.CommunityID,
				},
			}); err != nil {
				return dispatched, err
			}
			dispatched++
		}
		return dispatched, nil
	})
	if err != nil {
		br.RecordFailure()
		o.tracer.RecordError(ctx, componentName, err)
		logger.Warnf("Population run '%s': turn dispatch failed: %v", runID, err)
		return
	}
	br.RecordSuccess()
}

// finalize persists the terminal status and terminalizes remaining agents.
// On error it retries once forcing FAILED; on a second error it returns a
// synthesized failed result. The workflow always completes.
func (o *Orchestrator) finalize(ctx context.Context, runID string, outcome loopOutcome) *RunResult {
	result, err := o.attemptFinalize(ctx, runID, outcome.status)
	if err == nil {
		result.Iterations = outcome.iterations
		return result
	}
	logger.Errorf("Population run '%s': finalization failed, retrying forced-failed: %v", runID, err)

	result, err = o.attemptFinalize(ctx, runID, model.RunStatusFailed)
	if err == nil {
		result.Iterations = outcome.iterations
		return result
	}
	logger.Errorf("Population run '%s': forced-failed finalization also failed, synthesizing result: %v", runID, err)
	return &RunResult{
		RunID:       runID,
		Status:      model.RunStatusFailed,
		Iterations:  outcome.iterations,
		Synthesized: true,
	}
}

func (o *Orchestrator) attemptFinalize(ctx context.Context, runID string, status model.RunStatus) (*RunResult, error) {
	var errs *multierror.Error

	from := []model.RunStatus{model.RunStatusPending, model.RunStatusRunning, model.RunStatusPaused, status}
	if err := o.repo.TransitionRunStatus(ctx, runID, from, status); err != nil {
		errs = multierror.Append(errs, exception.NewOrchestrationError(componentName, "failed to persist terminal run status", err, false))
	}

	terminalized, err := o.repo.TerminalizeActiveAgents(ctx, runID, model.AgentStateRemoved, model.RemovalReasonRunEnded)
	if err != nil {
		errs = multierror.Append(errs, exception.NewOrchestrationError(componentName, "failed to terminalize active agents", err, false))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &RunResult{RunID: runID, Status: status, AgentsTerminalized: terminalized}, nil
}
