// Package runtime defines the durable runtime boundary the orchestration
// engines are written against: checkpointed steps, cooperative sleep, workflow
// signals, and fire-and-forget dispatch. Orchestration logic stays pure and
// unit-testable; a concrete Runtime supplies durability.
package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
)

// StepFunc is the unit of work executed inside a checkpointed step.
// The returned value is JSON-serialized into the checkpoint record.
type StepFunc func(ctx context.Context) (interface{}, error)

// StepPolicy controls the runtime's transparent retry of a failing step.
// Orchestration logic never observes transient failures unless attempts are
// exhausted.
type StepPolicy struct {
	// MaxAttempts is the maximum number of executions, including the first.
	MaxAttempts int
	// InitialInterval is the first backoff interval.
	InitialInterval time.Duration
	// MaxInterval caps the backoff interval.
	MaxInterval time.Duration
	// Factor multiplies the interval after each failed attempt.
	Factor float64
}

// PolicyFromRetryConfig builds a StepPolicy from the shared retry configuration.
func PolicyFromRetryConfig(rc config.RetryConfig) StepPolicy {
	return StepPolicy{
		MaxAttempts:     rc.MaxAttempts,
		InitialInterval: time.Duration(rc.InitialInterval) * time.Millisecond,
		MaxInterval:     time.Duration(rc.MaxInterval) * time.Millisecond,
		Factor:          rc.Factor,
	}
}

// NoRetry is the policy for steps whose failures the orchestrator handles itself.
var NoRetry = StepPolicy{MaxAttempts: 1}

// BackoffInterval returns the wait before the given retry attempt (1-based).
func (p StepPolicy) BackoffInterval(attempt int) time.Duration {
	interval := p.InitialInterval
	for i := 1; i < attempt; i++ {
		interval = time.Duration(float64(interval) * p.Factor)
		if p.MaxInterval > 0 && interval > p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && interval > p.MaxInterval {
		return p.MaxInterval
	}
	return interval
}

// WorkflowStatus is the durable status of a dispatched workflow.
type WorkflowStatus string

const (
	WorkflowStatusUnknown   WorkflowStatus = "UNKNOWN"
	WorkflowStatusPending   WorkflowStatus = "PENDING"
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
)

// EnqueueRequest describes a workflow dispatch.
type EnqueueRequest struct {
	// Pool is the queue pool the workflow is dispatched to.
	Pool string
	// WorkflowName selects the registered workflow handler.
	WorkflowName string
	// Args is the JSON-serializable argument payload.
	Args interface{}
	// WorkflowID, when set, makes the dispatch idempotent: enqueueing an id
	// that already exists is a no-op returning the existing handle.
	WorkflowID string
	// DedupKey optionally deduplicates dispatches that carry no explicit id.
	DedupKey string
}

// Handle refers to a dispatched workflow.
type Handle struct {
	WorkflowID string
}

// Runtime is the durable runtime capability injected into every orchestrator.
//
// Step executes fn as a checkpointed unit: its JSON result is durably recorded
// under (workflowID, name), and re-running the workflow replays the recorded
// result instead of re-executing fn. Transient failures are retried per policy
// with backoff before the error surfaces.
type Runtime interface {
	Step(ctx context.Context, workflowID, name string, policy StepPolicy, fn StepFunc) (json.RawMessage, error)

	// Sleep suspends the workflow cooperatively. It returns early with the
	// context's error if the context is cancelled.
	Sleep(ctx context.Context, d time.Duration) error

	// Send delivers a signal payload to the target workflow on a topic.
	Send(ctx context.Context, targetWorkflowID, topic string, payload interface{}) error

	// Recv waits up to timeout for the next signal on a topic. It returns
	// exception.ErrSignalTimeout if nothing arrives in time.
	Recv(ctx context.Context, workflowID, topic string, timeout time.Duration) (json.RawMessage, error)

	// TryRecv performs a non-blocking poll for a signal on a topic.
	TryRecv(ctx context.Context, workflowID, topic string) (json.RawMessage, bool)

	// Enqueue dispatches a workflow for independent execution.
	Enqueue(ctx context.Context, req EnqueueRequest) (*Handle, error)

	// Status reports the durable status of a previously dispatched workflow.
	Status(workflowID string) WorkflowStatus
}

// RunStep executes fn as a checkpointed step and decodes its recorded result
// into T. On replay the decoded value comes from the checkpoint, so executing
// a step twice with identical inputs yields the identical result.
func RunStep[T any](ctx context.Context, rt Runtime, workflowID, name string, policy StepPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := rt.Step(ctx, workflowID, name, policy, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, exception.NewOrchestrationError("runtime", "failed to decode checkpointed step result", err, false)
	}
	return out, nil
}

// RecvAs waits for a signal and decodes its payload into T.
func RecvAs[T any](ctx context.Context, rt Runtime, workflowID, topic string, timeout time.Duration) (T, error) {
	var zero T
	raw, err := rt.Recv(ctx, workflowID, topic, timeout)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, exception.NewOrchestrationError("runtime", "failed to decode signal payload", err, false)
	}
	return out, nil
}

// TryRecvAs polls for a signal and decodes its payload into T.
func TryRecvAs[T any](ctx context.Context, rt Runtime, workflowID, topic string) (T, bool) {
	var zero T
	raw, ok := rt.TryRecv(ctx, workflowID, topic)
	if !ok {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false
	}
	return out, true
}
