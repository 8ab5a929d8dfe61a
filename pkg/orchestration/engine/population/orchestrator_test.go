package population_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/pkg/orchestration/admission"
	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/core/metrics"
	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/runtime"
	"github.com/factweave/factweave/pkg/orchestration/core/service"
	"github.com/factweave/factweave/pkg/orchestration/engine/population"
	"github.com/factweave/factweave/pkg/orchestration/infrastructure/repository/inmemory"
)

type popFixture struct {
	orchestrator *population.Orchestrator
	operator     *population.Operator
	repo         *inmemory.InMemoryRepository
	rt           *runtime.LocalRuntime
	availability *toggleAvailability
}

type toggleAvailability struct {
	available bool
}

func (a *toggleAvailability) HasAvailableContent(ctx context.Context, communityID string) (bool, error) {
	return a.available, nil
}

func newPopFixture(t *testing.T, mutate func(cfg *config.Config)) *popFixture {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Factweave.Population.MaxIterations = 5
	if mutate != nil {
		mutate(cfg)
	}

	clock := runtime.NewFakeClock(time.Unix(0, 0))
	rt := runtime.NewLocalRuntime(clock)
	rt.Register(population.TurnWorkflowName, func(ctx context.Context, workflowID string, args json.RawMessage) error {
		return nil
	})
	repo := inmemory.NewInMemoryRepository()
	gate := admission.NewGate(cfg.Factweave.Admission)
	availability := &toggleAvailability{available: true}

	orchestrator := population.NewOrchestrator(rt, repo, gate, clock, cfg,
		service.LocalAgentProvisioner{}, availability, service.NoopScoringTrigger{},
		metrics.NewNoopMetricRecorder(), metrics.NewNoopTracer())
	orchestrator.SetRandom(func() float64 { return 1.0 }) // no random removal unless a test opts in

	return &popFixture{
		orchestrator: orchestrator,
		operator:     population.NewOperator(repo),
		repo:         repo,
		rt:           rt,
		availability: availability,
	}
}

func defaultSimConfig() model.SimulationConfig {
	return model.SimulationConfig{
		MaxAgents:          15,
		TurnCadenceSeconds: 1,
		RemovalRate:        0,
		MaxTurnsPerAgent:   20,
		AgentProfileIDs:    []string{"skeptic", "enthusiast", "moderator"},
		CommunityID:        "community-1",
	}
}

func TestOrchestrator_SpawnsUpToMaxAgents(t *testing.T) {
	f := newPopFixture(t, nil)
	run, err := f.operator.Start(context.Background(), defaultSimConfig())
	require.NoError(t, err)

	result, err := f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, result.Status)
	assert.Equal(t, 5, result.Iterations)
	assert.Equal(t, 15, result.AgentsTerminalized,
		"5 per iteration reaches max_agents=15 after 3 iterations; later spawns are empty")

	snapshot, err := f.repo.SnapshotPopulation(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, snapshot.TotalSpawned, "capacity re-check prevents overshoot")
	assert.Equal(t, 0, snapshot.Active)
}

func TestOrchestrator_ActiveCountNeverExceedsMaxAgents(t *testing.T) {
	f := newPopFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Population.SpawnBatchSize = 7 // deliberately larger than remaining headroom
	})
	sim := defaultSimConfig()
	sim.MaxAgents = 10
	run, err := f.operator.Start(context.Background(), sim)
	require.NoError(t, err)

	_, err = f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)

	snapshot, err := f.repo.SnapshotPopulation(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, snapshot.TotalSpawned)
}

func TestOrchestrator_EmptyContentStreakPausesRun(t *testing.T) {
	f := newPopFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Population.MaxConsecutiveEmpty = 2
	})
	f.availability.available = false

	run, err := f.operator.Start(context.Background(), defaultSimConfig())
	require.NoError(t, err)

	result, err := f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPaused, result.Status)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 0, result.AgentsTerminalized, "a paused run keeps its agents for resumption")

	persisted, err := f.repo.FindSimulationRunByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPaused, persisted.Status)
}

func TestOrchestrator_ResumedRunSeesLiveAvailability(t *testing.T) {
	f := newPopFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Population.MaxConsecutiveEmpty = 2
	})
	f.availability.available = false
	ctx := context.Background()

	run, err := f.operator.Start(ctx, defaultSimConfig())
	require.NoError(t, err)

	result, err := f.orchestrator.Run(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunStatusPaused, result.Status)

	// Content showed up while the run was paused. The resumed execution must
	// observe it live instead of replaying the empty checks that caused the
	// pause.
	f.availability.available = true
	require.NoError(t, f.operator.Resume(ctx, run.ID))

	result, err = f.orchestrator.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, result.Status)
	assert.Equal(t, 5, result.Iterations)

	snapshot, err := f.repo.SnapshotPopulation(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, snapshot.TotalSpawned, "the resumed run spawns against live availability")

	persisted, err := f.repo.FindSimulationRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, persisted.Status)
}

type recordingProvisioner struct {
	profiles []string
}

func (p *recordingProvisioner) ProvisionAgent(ctx context.Context, communityID, agentProfileID string) (string, error) {
	p.profiles = append(p.profiles, agentProfileID)
	return model.NewID(), nil
}

func recordCheckpoint(t *testing.T, rt *runtime.LocalRuntime, workflowID, name string, value interface{}) {
	t.Helper()
	_, err := rt.Step(context.Background(), workflowID, name, runtime.NoRetry, func(ctx context.Context) (interface{}, error) {
		return value, nil
	})
	require.NoError(t, err)
}

func TestOrchestrator_CrashResumeContinuesProfileCycle(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Factweave.Population.MaxIterations = 2
	cfg.Factweave.Population.SpawnBatchSize = 2

	clock := runtime.NewFakeClock(time.Unix(0, 0))
	rt := runtime.NewLocalRuntime(clock)
	rt.Register(population.TurnWorkflowName, func(ctx context.Context, workflowID string, args json.RawMessage) error {
		return nil
	})
	repo := inmemory.NewInMemoryRepository()
	provisioner := &recordingProvisioner{}

	orchestrator := population.NewOrchestrator(rt, repo, admission.NewGate(cfg.Factweave.Admission), clock, cfg,
		provisioner, &toggleAvailability{available: true}, service.NoopScoringTrigger{},
		metrics.NewNoopMetricRecorder(), metrics.NewNoopTracer())
	orchestrator.SetRandom(func() float64 { return 1.0 })

	ctx := context.Background()
	operator := population.NewOperator(repo)
	run, err := operator.Start(ctx, defaultSimConfig())
	require.NoError(t, err)

	// The first execution crashed after finishing iteration 1: the run is
	// still RUNNING under attempt 1 and the iteration's step results are on
	// record. Its spawn had already consumed profile indexes 0 and 1.
	require.NoError(t, repo.TransitionRunStatus(ctx, run.ID,
		[]model.RunStatus{model.RunStatusPending}, model.RunStatusRunning))
	attempt, err := repo.IncrementRunAttempt(ctx, run.ID)
	require.NoError(t, err)
	workflowID := model.PopulationWorkflowID(run.ID, attempt)
	recordCheckpoint(t, rt, workflowID, "status_1", model.RunStatusRunning)
	recordCheckpoint(t, rt, workflowID, "availability_1", true)
	recordCheckpoint(t, rt, workflowID, "snapshot_1", model.PopulationSnapshot{Active: 2, TotalSpawned: 2})
	recordCheckpoint(t, rt, workflowID, "spawn_1", map[string]int{"spawned": 2, "next_profile": 2})
	recordCheckpoint(t, rt, workflowID, "removal_1", false)
	recordCheckpoint(t, rt, workflowID, "reconcile_1", []*model.SimAgentInstance{})
	recordCheckpoint(t, rt, workflowID, "dispatch_1", 0)

	result, err := orchestrator.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, result.Status)

	// Iteration 1 replays without re-spawning; iteration 2 spawns live and
	// must continue the profile cycle at index 2, not restart it at 0.
	assert.Equal(t, []string{"moderator", "skeptic"}, provisioner.profiles)

	snapshot, err := repo.SnapshotPopulation(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.TotalSpawned, "replayed spawn steps never execute again")
}

func TestOrchestrator_CancelledRunFinalizesCancelled(t *testing.T) {
	f := newPopFixture(t, nil)
	run, err := f.operator.Start(context.Background(), defaultSimConfig())
	require.NoError(t, err)
	require.NoError(t, f.operator.Cancel(context.Background(), run.ID))

	result, err := f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, result.Status)

	persisted, err := f.repo.FindSimulationRunByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, persisted.Status)
}

func TestOrchestrator_MaxIterationsSafetyValve(t *testing.T) {
	f := newPopFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Population.MaxIterations = 4
	})
	run, err := f.operator.Start(context.Background(), defaultSimConfig())
	require.NoError(t, err)

	result, err := f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, result.Status)
	assert.Equal(t, 4, result.Iterations)
}

func TestOrchestrator_ExhaustedRetriesEvictAgent(t *testing.T) {
	f := newPopFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Population.MaxIterations = 1
		cfg.Factweave.Population.SpawnBatchSize = 0 // no fresh spawns, test only the seeded agent
		cfg.Factweave.Population.MaxTurnRetries = 2
	})
	sim := defaultSimConfig()
	run, err := f.operator.Start(context.Background(), sim)
	require.NoError(t, err)

	agent := model.NewSimAgentInstance(run.ID, "skeptic", model.NewID())
	agent.RetryCount = 2
	created, err := f.repo.CreateAgent(context.Background(), agent, sim.MaxAgents)
	require.NoError(t, err)
	require.True(t, created)

	result, err := f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, result.Status)

	active, err := f.repo.ListActiveAgents(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, active, "agent at max retries must be evicted")
}

func TestOrchestrator_FailedTurnIncrementsRetryCount(t *testing.T) {
	f := newPopFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Population.MaxIterations = 1
		cfg.Factweave.Population.SpawnBatchSize = 0
	})
	sim := defaultSimConfig()
	run, err := f.operator.Start(context.Background(), sim)
	require.NoError(t, err)

	agent := model.NewSimAgentInstance(run.ID, "skeptic", model.NewID())
	created, err := f.repo.CreateAgent(context.Background(), agent, sim.MaxAgents)
	require.NoError(t, err)
	require.True(t, created)

	// The agent's outstanding turn failed out-of-band.
	f.rt.SetStatus(model.TurnWorkflowID(agent.ID, 0, 0), runtime.WorkflowStatusFailed)

	_, err = f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)

	// Finalize terminalizes the agent; its retry counter still reflects the
	// failed turn observed during the iteration.
	stored, err := f.repo.FindAgentByID(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestOrchestrator_RandomRemovalEvictsOldest(t *testing.T) {
	f := newPopFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Population.MaxIterations = 1
		cfg.Factweave.Population.SpawnBatchSize = 0
	})
	sim := defaultSimConfig()
	sim.RemovalRate = 1.0
	run, err := f.operator.Start(context.Background(), sim)
	require.NoError(t, err)

	oldest := model.NewSimAgentInstance(run.ID, "skeptic", model.NewID())
	oldest.CreatedAt = time.Unix(100, 0)
	newest := model.NewSimAgentInstance(run.ID, "enthusiast", model.NewID())
	newest.CreatedAt = time.Unix(200, 0)
	for _, a := range []*model.SimAgentInstance{oldest, newest} {
		created, err := f.repo.CreateAgent(context.Background(), a, sim.MaxAgents)
		require.NoError(t, err)
		require.True(t, created)
	}

	f.orchestrator.SetRandom(func() float64 { return 0.0 }) // always below removal_rate

	_, err = f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)

	stored, err := f.repo.FindAgentByID(context.Background(), oldest.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentStateRemoved, stored.State)
	assert.Equal(t, model.RemovalReasonRandom, stored.RemovalReason)
}

func TestOrchestrator_RemovalSkippedBelowTwoActive(t *testing.T) {
	f := newPopFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Population.MaxIterations = 1
		cfg.Factweave.Population.SpawnBatchSize = 0
	})
	sim := defaultSimConfig()
	sim.RemovalRate = 1.0
	run, err := f.operator.Start(context.Background(), sim)
	require.NoError(t, err)

	only := model.NewSimAgentInstance(run.ID, "skeptic", model.NewID())
	created, err := f.repo.CreateAgent(context.Background(), only, sim.MaxAgents)
	require.NoError(t, err)
	require.True(t, created)

	f.orchestrator.SetRandom(func() float64 { return 0.0 })

	_, err = f.orchestrator.Run(context.Background(), run.ID)
	require.NoError(t, err)

	stored, err := f.repo.FindAgentByID(context.Background(), only.ID)
	require.NoError(t, err)
	assert.NotEqual(t, model.RemovalReasonRandom, stored.RemovalReason,
		"a lone agent is never removed by the probabilistic eviction")
}

func TestOperator_PauseResumeCancel(t *testing.T) {
	f := newPopFixture(t, nil)
	ctx := context.Background()
	run, err := f.operator.Start(ctx, defaultSimConfig())
	require.NoError(t, err)

	// A pending run cannot be paused.
	assert.Error(t, f.operator.Pause(ctx, run.ID))

	require.NoError(t, f.repo.TransitionRunStatus(ctx, run.ID,
		[]model.RunStatus{model.RunStatusPending}, model.RunStatusRunning))
	require.NoError(t, f.operator.Pause(ctx, run.ID))
	require.NoError(t, f.operator.Resume(ctx, run.ID))
	require.NoError(t, f.operator.Cancel(ctx, run.ID))

	persisted, err := f.repo.FindSimulationRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, persisted.Status)

	// Terminal states accept no further control transitions.
	assert.Error(t, f.operator.Resume(ctx, run.ID))
}
