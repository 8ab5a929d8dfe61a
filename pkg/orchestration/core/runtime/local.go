package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
	"github.com/factweave/factweave/pkg/orchestration/support/util/serialization"
)

// WorkflowHandler is the body of a registered workflow. args carries the
// JSON-encoded EnqueueRequest.Args payload.
type WorkflowHandler func(ctx context.Context, workflowID string, args json.RawMessage) error

const signalBufferSize = 128

// LocalRuntime is an in-process implementation of Runtime. Step results are
// recorded in an in-memory checkpoint store keyed (workflowID, stepName);
// re-running a workflow replays recorded results instead of re-executing the
// step bodies, which is what makes crash-resume semantics testable without an
// external scheduler.
type LocalRuntime struct {
	clock Clock

	mu          sync.Mutex
	checkpoints map[string]map[string]json.RawMessage
	statuses    map[string]WorkflowStatus
	handlers    map[string]WorkflowHandler
	signals     map[string]chan json.RawMessage
	dedup       map[string]string // dedup key -> workflow id

	wg sync.WaitGroup
}

// NewLocalRuntime creates a LocalRuntime backed by the given clock.
func NewLocalRuntime(clock Clock) *LocalRuntime {
	return &LocalRuntime{
		clock:       clock,
		checkpoints: make(map[string]map[string]json.RawMessage),
		statuses:    make(map[string]WorkflowStatus),
		handlers:    make(map[string]WorkflowHandler),
		signals:     make(map[string]chan json.RawMessage),
		dedup:       make(map[string]string),
	}
}

// Register registers a workflow handler under a name so Enqueue can dispatch it.
func (r *LocalRuntime) Register(name string, handler WorkflowHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Step executes fn as a checkpointed unit. A previously recorded result for
// (workflowID, name) is replayed without executing fn. Failures classified as
// temporary are retried with backoff per policy.
func (r *LocalRuntime) Step(ctx context.Context, workflowID, name string, policy StepPolicy, fn StepFunc) (json.RawMessage, error) {
	r.mu.Lock()
	if steps, ok := r.checkpoints[workflowID]; ok {
		if raw, ok := steps[name]; ok {
			r.mu.Unlock()
			logger.Debugf("Step '%s' of workflow '%s' replayed from checkpoint.", name, workflowID)
			return raw, nil
		}
	}
	r.mu.Unlock()

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			raw, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				return nil, exception.NewOrchestrationError("runtime", fmt.Sprintf("failed to serialize result of step '%s'", name), marshalErr, false)
			}
			r.mu.Lock()
			if _, ok := r.checkpoints[workflowID]; !ok {
				r.checkpoints[workflowID] = make(map[string]json.RawMessage)
			}
			r.checkpoints[workflowID][name] = raw
			r.mu.Unlock()
			return raw, nil
		}

		lastErr = err
		if attempt < maxAttempts && exception.IsTemporary(err) {
			backoff := policy.BackoffInterval(attempt)
			logger.Warnf("Step '%s' of workflow '%s' failed (attempt %d/%d), retrying in %s: %v", name, workflowID, attempt, maxAttempts, backoff, err)
			if sleepErr := r.clock.Sleep(ctx, backoff); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		break
	}
	return nil, lastErr
}

// Sleep suspends cooperatively via the injected clock.
func (r *LocalRuntime) Sleep(ctx context.Context, d time.Duration) error {
	return r.clock.Sleep(ctx, d)
}

func (r *LocalRuntime) signalChannel(workflowID, topic string) chan json.RawMessage {
	key := workflowID + "/" + topic
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.signals[key]
	if !ok {
		ch = make(chan json.RawMessage, signalBufferSize)
		r.signals[key] = ch
	}
	return ch
}

// Send delivers a signal payload to the target workflow on a topic.
func (r *LocalRuntime) Send(ctx context.Context, targetWorkflowID, topic string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return exception.NewOrchestrationError("runtime", "failed to serialize signal payload", err, false)
	}
	select {
	case r.signalChannel(targetWorkflowID, topic) <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv waits up to timeout for the next signal on a topic.
func (r *LocalRuntime) Recv(ctx context.Context, workflowID, topic string, timeout time.Duration) (json.RawMessage, error) {
	ch := r.signalChannel(workflowID, topic)
	select {
	case raw := <-ch:
		return raw, nil
	default:
	}
	select {
	case raw := <-ch:
		return raw, nil
	case <-r.clock.After(timeout):
		return nil, exception.ErrSignalTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryRecv performs a non-blocking poll for a signal on a topic.
func (r *LocalRuntime) TryRecv(ctx context.Context, workflowID, topic string) (json.RawMessage, bool) {
	select {
	case raw := <-r.signalChannel(workflowID, topic):
		return raw, true
	default:
		return nil, false
	}
}

// Enqueue dispatches a registered workflow for independent execution.
// A request carrying a WorkflowID (or DedupKey) that was already dispatched is
// a no-op returning the existing handle.
func (r *LocalRuntime) Enqueue(ctx context.Context, req EnqueueRequest) (*Handle, error) {
	r.mu.Lock()
	handler, ok := r.handlers[req.WorkflowName]
	if !ok {
		r.mu.Unlock()
		return nil, exception.NewOrchestrationErrorf("runtime", "no workflow registered under name '%s'", req.WorkflowName)
	}

	workflowID := req.WorkflowID
	if workflowID == "" && req.DedupKey != "" {
		if existing, ok := r.dedup[req.DedupKey]; ok {
			r.mu.Unlock()
			return &Handle{WorkflowID: existing}, nil
		}
	}
	if workflowID == "" {
		workflowID = model.NewID()
	}
	if _, exists := r.statuses[workflowID]; exists {
		r.mu.Unlock()
		return &Handle{WorkflowID: workflowID}, nil
	}
	r.statuses[workflowID] = WorkflowStatusPending
	if req.DedupKey != "" {
		r.dedup[req.DedupKey] = workflowID
	}
	r.mu.Unlock()

	args, err := json.Marshal(req.Args)
	if err != nil {
		return nil, exception.NewOrchestrationError("runtime", "failed to serialize workflow arguments", err, false)
	}
	logger.Debugf("Workflow '%s' (ID: %s) enqueued with args: %s", req.WorkflowName, workflowID, serialization.MaskedArgsJSON(args))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.setStatus(workflowID, WorkflowStatusRunning)
		if err := handler(context.WithoutCancel(ctx), workflowID, args); err != nil {
			logger.Warnf("Workflow '%s' (ID: %s) finished with error: %v", req.WorkflowName, workflowID, err)
			r.setStatus(workflowID, WorkflowStatusFailed)
			return
		}
		r.setStatus(workflowID, WorkflowStatusCompleted)
	}()

	return &Handle{WorkflowID: workflowID}, nil
}

// Status reports the durable status of a previously dispatched workflow.
func (r *LocalRuntime) Status(workflowID string) WorkflowStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[workflowID]
	if !ok {
		return WorkflowStatusUnknown
	}
	return st
}

// SetStatus records a workflow status directly. Intended for tests simulating
// turn workflows that completed or failed out-of-band.
func (r *LocalRuntime) SetStatus(workflowID string, status WorkflowStatus) {
	r.setStatus(workflowID, status)
}

func (r *LocalRuntime) setStatus(workflowID string, status WorkflowStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[workflowID] = status
}

// ClearCheckpoints drops recorded step results for a workflow. Tests use this
// to simulate a fresh execution rather than a crash-resume replay.
func (r *LocalRuntime) ClearCheckpoints(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkpoints, workflowID)
}

// Wait blocks until all dispatched workflows have finished.
func (r *LocalRuntime) Wait() {
	r.wg.Wait()
}

var _ Runtime = (*LocalRuntime)(nil)
