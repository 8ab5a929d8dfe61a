package model_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
)

func TestBatchJob_TransitionTo(t *testing.T) {
	job := model.NewBatchJob("note_approval", "wf-1")

	assert.Error(t, job.TransitionTo(model.JobStatusCompleted), "a pending job cannot complete directly")
	require.NoError(t, job.TransitionTo(model.JobStatusInProgress))
	require.NoError(t, job.TransitionTo(model.JobStatusCompleted))
	assert.True(t, job.Status.IsFinished())
	assert.Error(t, job.TransitionTo(model.JobStatusFailed), "terminal states accept no transitions")
}

func TestBatchJob_ErrorSummaryIsCapped(t *testing.T) {
	job := model.NewBatchJob("note_approval", "wf-1")
	for i := 0; i < model.MaxStoredErrors+10; i++ {
		job.RecordError(fmt.Sprintf("batch %d failed", i))
	}
	assert.Len(t, job.ErrorSummary, model.MaxStoredErrors)
	assert.Equal(t, model.MaxStoredErrors+10, job.ErrorCount, "the running total keeps counting past the cap")
}

func TestBatchJob_ProgressOnlyIncreases(t *testing.T) {
	job := model.NewBatchJob("note_approval", "wf-1")
	job.AddProgress(10, 2)
	job.AddProgress(-5, -1)
	assert.Equal(t, 10, job.CompletedTasks)
	assert.Equal(t, 2, job.FailedTasks)
}

func TestSimulationRun_TransitionTo(t *testing.T) {
	run := model.NewSimulationRun(model.SimulationConfig{MaxAgents: 5})

	assert.Error(t, run.TransitionTo(model.RunStatusPaused), "pending cannot pause")
	require.NoError(t, run.TransitionTo(model.RunStatusRunning))
	require.NoError(t, run.TransitionTo(model.RunStatusPaused))
	require.NoError(t, run.TransitionTo(model.RunStatusRunning))
	require.NoError(t, run.TransitionTo(model.RunStatusCancelled))
	assert.True(t, run.Status.IsTerminal())
	assert.Error(t, run.TransitionTo(model.RunStatusRunning))
}

func TestWorkflowIDsAreDeterministic(t *testing.T) {
	assert.Equal(t, model.TurnWorkflowID("agent-1", 3, 1), model.TurnWorkflowID("agent-1", 3, 1))
	assert.NotEqual(t, model.TurnWorkflowID("agent-1", 3, 1), model.TurnWorkflowID("agent-1", 3, 2),
		"a retry is a distinct workflow, otherwise dedup would swallow it")
	assert.Equal(t, model.ScanWorkflowID("scan-1"), model.ScanWorkflowID("scan-1"))
}
