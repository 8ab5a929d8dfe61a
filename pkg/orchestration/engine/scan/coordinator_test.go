package scan_test

import (
	"context"
	"math/rand"
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
	"github.com/factweave/factweave/pkg/orchestration/engine/scan"
	"github.com/factweave/factweave/pkg/orchestration/infrastructure/repository/inmemory"
)

type scanFixture struct {
	coordinator *scan.Coordinator
	repo        *inmemory.InMemoryRepository
	rt          *runtime.LocalRuntime
	emitter     *recordingEmitter
}

type recordingEmitter struct {
	topics []string
}

func (e *recordingEmitter) Emit(ctx context.Context, topic string, payload interface{}) error {
	e.topics = append(e.topics, topic)
	return nil
}

func newScanFixture(t *testing.T, mutate func(cfg *config.Config)) *scanFixture {
	t.Helper()
	cfg := config.NewConfig()
	if mutate != nil {
		mutate(cfg)
	}

	clock := runtime.NewFakeClock(time.Unix(0, 0))
	rt := runtime.NewLocalRuntime(clock)
	repo := inmemory.NewInMemoryRepository()
	gate := admission.NewGate(cfg.Factweave.Admission)
	emitter := &recordingEmitter{}

	coordinator := scan.NewCoordinator(rt, repo, gate, clock, cfg, emitter, metrics.NewNoopMetricRecorder(), metrics.NewNoopTracer())
	return &scanFixture{coordinator: coordinator, repo: repo, rt: rt, emitter: emitter}
}

func sendBatches(t *testing.T, rt *runtime.LocalRuntime, scanID string, batches []model.BatchCompleteSignal) {
	t.Helper()
	ctx := context.Background()
	workflowID := model.ScanWorkflowID(scanID)
	for i := range batches {
		require.NoError(t, rt.Send(ctx, workflowID, scan.TopicBatchComplete, batches[i]))
	}
}

func TestCoordinator_CompletesWhenAllAccountedFor(t *testing.T) {
	f := newScanFixture(t, nil)
	scanID := model.NewID()

	sendBatches(t, f.rt, scanID, []model.BatchCompleteSignal{
		{Processed: 15, FlaggedCount: 2},
		{Processed: 15, Skipped: 1},
		{Processed: 10, Errors: 2, FlaggedCount: 1},
	})
	require.NoError(t, f.rt.Send(context.Background(), model.ScanWorkflowID(scanID),
		scan.TopicAllTransmitted, model.AllTransmittedSignal{MessagesScanned: 42}))

	result, err := f.coordinator.Run(context.Background(), scanID)
	require.NoError(t, err)

	assert.Equal(t, model.ScanStatusCompleted, result.Status)
	assert.Equal(t, 42, result.MessagesScanned)
	assert.Equal(t, 40, result.Processed)
	assert.Equal(t, 2, result.Errors)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, result.FlaggedCount)
	assert.False(t, result.TimedOut)

	persisted, err := f.repo.FindScanResult(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, result.Processed, persisted.Processed)
	assert.Contains(t, f.emitter.topics, scan.EventScanFinished)
}

func TestCoordinator_AllErrorsFinalizesFailed(t *testing.T) {
	f := newScanFixture(t, nil)
	scanID := model.NewID()

	sendBatches(t, f.rt, scanID, []model.BatchCompleteSignal{
		{Errors: 4},
		{Errors: 6},
	})
	require.NoError(t, f.rt.Send(context.Background(), model.ScanWorkflowID(scanID),
		scan.TopicAllTransmitted, model.AllTransmittedSignal{MessagesScanned: 10}))

	result, err := f.coordinator.Run(context.Background(), scanID)
	require.NoError(t, err)

	assert.Equal(t, model.ScanStatusFailed, result.Status)
	assert.Equal(t, 10, result.MessagesScanned)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 10, result.Errors)
}

func TestCoordinator_AccumulationIsCommutative(t *testing.T) {
	batches := []model.BatchCompleteSignal{
		{Processed: 5, Skipped: 1, FlaggedCount: 2},
		{Processed: 10, Errors: 1},
		{Processed: 3, Errors: 1, FlaggedCount: 1},
		{Processed: 12, Skipped: 2},
	}

	r := rand.New(rand.NewSource(1))
	var reference *model.ScanResult
	for trial := 0; trial < 5; trial++ {
		f := newScanFixture(t, nil)
		scanID := model.NewID()

		perm := r.Perm(len(batches))
		shuffled := make([]model.BatchCompleteSignal, len(batches))
		for i, j := range perm {
			shuffled[i] = batches[j]
		}
		sendBatches(t, f.rt, scanID, shuffled)
		require.NoError(t, f.rt.Send(context.Background(), model.ScanWorkflowID(scanID),
			scan.TopicAllTransmitted, model.AllTransmittedSignal{MessagesScanned: 32}))

		result, err := f.coordinator.Run(context.Background(), scanID)
		require.NoError(t, err)

		if reference == nil {
			reference = result
			continue
		}
		assert.Equal(t, reference.Processed, result.Processed)
		assert.Equal(t, reference.Skipped, result.Skipped)
		assert.Equal(t, reference.Errors, result.Errors)
		assert.Equal(t, reference.FlaggedCount, result.FlaggedCount)
		assert.Equal(t, reference.Status, result.Status)
	}
}

func TestCoordinator_IdleWaitsProduceTimeoutWarning(t *testing.T) {
	f := newScanFixture(t, func(cfg *config.Config) {
		cfg.Factweave.Scan.SignalTimeoutSeconds = 0 // fire immediately
		cfg.Factweave.Scan.MaxIdleWaits = 3
	})
	scanID := model.NewID()

	result, err := f.coordinator.Run(context.Background(), scanID)
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, model.ScanStatusCompleted, result.Status, "no messages scanned means no failure")
	assert.Equal(t, 0, result.Processed)
}

func TestCoordinator_ZeroExpectedTotalCompletesImmediately(t *testing.T) {
	f := newScanFixture(t, nil)
	scanID := model.NewID()

	require.NoError(t, f.rt.Send(context.Background(), model.ScanWorkflowID(scanID),
		scan.TopicAllTransmitted, model.AllTransmittedSignal{MessagesScanned: 0}))

	result, err := f.coordinator.Run(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusCompleted, result.Status)
	assert.False(t, result.TimedOut)
}

func TestWorker_SignalsCoordinator(t *testing.T) {
	f := newScanFixture(t, nil)
	scanID := model.NewID()
	worker := scan.NewWorker(f.rt, service.PassthroughMessageScanner{})

	messages := []string{model.NewID(), model.NewID(), model.NewID()}
	require.NoError(t, worker.ProcessBatch(context.Background(), scanID, 0, messages))
	require.NoError(t, f.rt.Send(context.Background(), model.ScanWorkflowID(scanID),
		scan.TopicAllTransmitted, model.AllTransmittedSignal{MessagesScanned: len(messages)}))

	result, err := f.coordinator.Run(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusCompleted, result.Status)
	assert.Equal(t, 3, result.Processed)
}

func TestWorker_ResumedWorkerDoesNotDoubleSignal(t *testing.T) {
	f := newScanFixture(t, nil)
	scanID := model.NewID()
	worker := scan.NewWorker(f.rt, service.PassthroughMessageScanner{})

	messages := []string{model.NewID(), model.NewID()}
	require.NoError(t, worker.ProcessBatch(context.Background(), scanID, 0, messages))
	// A resumed worker replays both its scan and its signal step.
	require.NoError(t, worker.ProcessBatch(context.Background(), scanID, 0, messages))

	workflowID := model.ScanWorkflowID(scanID)
	_, ok := f.rt.TryRecv(context.Background(), workflowID, scan.TopicBatchComplete)
	assert.True(t, ok, "first signal delivered")
	_, ok = f.rt.TryRecv(context.Background(), workflowID, scan.TopicBatchComplete)
	assert.False(t, ok, "replayed worker must not signal twice")
}
