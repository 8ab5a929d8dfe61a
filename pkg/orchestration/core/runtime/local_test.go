package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/pkg/orchestration/core/runtime"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
)

func newTestRuntime() (*runtime.LocalRuntime, *runtime.FakeClock) {
	clock := runtime.NewFakeClock(time.Unix(0, 0))
	return runtime.NewLocalRuntime(clock), clock
}

func TestLocalRuntime_StepReplayIsIdempotent(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	executions := 0
	fn := func(ctx context.Context) (int, error) {
		executions++
		return executions, nil
	}

	first, err := runtime.RunStep(ctx, rt, "wf-1", "count", runtime.NoRetry, fn)
	require.NoError(t, err)
	second, err := runtime.RunStep(ctx, rt, "wf-1", "count", runtime.NoRetry, fn)
	require.NoError(t, err)

	assert.Equal(t, 1, executions, "replayed step must not re-execute")
	assert.Equal(t, first, second, "replay must return the recorded result")
}

func TestLocalRuntime_StepCheckpointsAreScopedByWorkflow(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	executions := 0
	fn := func(ctx context.Context) (int, error) {
		executions++
		return executions, nil
	}

	_, err := runtime.RunStep(ctx, rt, "wf-a", "step", runtime.NoRetry, fn)
	require.NoError(t, err)
	_, err = runtime.RunStep(ctx, rt, "wf-b", "step", runtime.NoRetry, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, executions)
}

func TestLocalRuntime_StepRetriesTemporaryFailures(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	attempts := 0
	policy := runtime.StepPolicy{MaxAttempts: 3, InitialInterval: time.Second, Factor: 2.0}
	out, err := runtime.RunStep(ctx, rt, "wf-retry", "flaky", policy, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", exception.NewOrchestrationError("test", "transient", errors.New("boom"), true)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, attempts)
}

func TestLocalRuntime_StepDoesNotRetryPermanentFailures(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	attempts := 0
	policy := runtime.StepPolicy{MaxAttempts: 3, InitialInterval: time.Second, Factor: 2.0}
	_, err := rt.Step(ctx, "wf-perm", "broken", policy, func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, exception.NewOrchestrationError("test", "permanent", errors.New("bad input"), false)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestLocalRuntime_ClearCheckpointsForcesFreshExecution(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	executions := 0
	fn := func(ctx context.Context) (int, error) {
		executions++
		return executions, nil
	}
	_, err := runtime.RunStep(ctx, rt, "wf-clear", "step", runtime.NoRetry, fn)
	require.NoError(t, err)

	rt.ClearCheckpoints("wf-clear")
	_, err = runtime.RunStep(ctx, rt, "wf-clear", "step", runtime.NoRetry, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, executions)
}

func TestLocalRuntime_SendRecv(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	type payload struct {
		N int `json:"n"`
	}
	require.NoError(t, rt.Send(ctx, "wf-signal", "topic", payload{N: 7}))

	got, err := runtime.RecvAs[payload](ctx, rt, "wf-signal", "topic", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 7, got.N)
}

func TestLocalRuntime_RecvTimeout(t *testing.T) {
	rt, clock := newTestRuntime()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := rt.Recv(ctx, "wf-idle", "topic", time.Minute)
		done <- err
	}()

	// Nothing arrives; advancing past the timeout must surface ErrSignalTimeout.
	for {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, exception.ErrSignalTimeout)
			return
		default:
			clock.Advance(time.Minute)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestLocalRuntime_TryRecv(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	_, ok := rt.TryRecv(ctx, "wf-poll", "topic")
	assert.False(t, ok)

	require.NoError(t, rt.Send(ctx, "wf-poll", "topic", map[string]int{"n": 1}))
	raw, ok := rt.TryRecv(ctx, "wf-poll", "topic")
	assert.True(t, ok)
	assert.NotEmpty(t, raw)
}

func TestLocalRuntime_EnqueueDedupesOnWorkflowID(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	runs := 0
	rt.Register("job", func(ctx context.Context, workflowID string, args json.RawMessage) error {
		runs++
		return nil
	})

	req := runtime.EnqueueRequest{WorkflowName: "job", WorkflowID: "fixed-id"}
	h1, err := rt.Enqueue(ctx, req)
	require.NoError(t, err)
	h2, err := rt.Enqueue(ctx, req)
	require.NoError(t, err)
	rt.Wait()

	assert.Equal(t, h1.WorkflowID, h2.WorkflowID)
	assert.Equal(t, 1, runs, "same workflow id must dispatch once")
	assert.Equal(t, runtime.WorkflowStatusCompleted, rt.Status("fixed-id"))
}

func TestLocalRuntime_EnqueueRecordsFailedStatus(t *testing.T) {
	rt, _ := newTestRuntime()
	ctx := context.Background()

	rt.Register("failing", func(ctx context.Context, workflowID string, args json.RawMessage) error {
		return errors.New("handler failed")
	})

	_, err := rt.Enqueue(ctx, runtime.EnqueueRequest{WorkflowName: "failing", WorkflowID: "wf-fail"})
	require.NoError(t, err)
	rt.Wait()
	assert.Equal(t, runtime.WorkflowStatusFailed, rt.Status("wf-fail"))
}

func TestLocalRuntime_EnqueueUnknownWorkflow(t *testing.T) {
	rt, _ := newTestRuntime()
	_, err := rt.Enqueue(context.Background(), runtime.EnqueueRequest{WorkflowName: "missing"})
	assert.Error(t, err)
}

func TestLocalRuntime_StatusUnknown(t *testing.T) {
	rt, _ := newTestRuntime()
	assert.Equal(t, runtime.WorkflowStatusUnknown, rt.Status("never-dispatched"))
}
