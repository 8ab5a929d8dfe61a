// Package model defines the domain entities shared by the Factweave
// orchestration engines: checkpointed batch jobs, simulation runs, and
// simulated agent instances.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a checkpointed batch job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished checks if the JobStatus represents a terminal state.
func (s JobStatus) IsFinished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// RunStatus represents the state of a simulation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusPaused    RunStatus = "PAUSED"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusCancelled RunStatus = "CANCELLED"
	RunStatusFailed    RunStatus = "FAILED"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal checks if the RunStatus represents a terminal state.
// PAUSED is a soft state: the control loop can enter and leave it without exiting.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusCancelled || s == RunStatusFailed
}

// AgentState represents the lifecycle state of a simulated agent instance.
type AgentState string

const (
	AgentStateActive    AgentState = "ACTIVE"
	AgentStateRemoved   AgentState = "REMOVED"
	AgentStateCompleted AgentState = "COMPLETED"
)

// ScanStatus represents the terminal state of a content scan.
type ScanStatus string

const (
	ScanStatusCompleted ScanStatus = "COMPLETED"
	ScanStatusFailed    ScanStatus = "FAILED"
)

// MaxStoredErrors caps how many error strings a BatchJob retains.
// A running total of all errors is always kept in ErrorCount.
const MaxStoredErrors = 20

// BatchJob is one checkpointed batch run (note approval, re-embedding, ...).
type BatchJob struct {
	ID             string    `gorm:"primaryKey;size:36"`
	JobType        string    `gorm:"size:64;not null;index"`
	Status         JobStatus `gorm:"size:20;not null;default:'PENDING'"`
	TotalTasks     int       `gorm:"not null;default:0"`
	CompletedTasks int       `gorm:"not null;default:0"`
	FailedTasks    int       `gorm:"not null;default:0"`
	// ErrorSummary holds at most MaxStoredErrors messages; ErrorCount keeps the real total.
	ErrorSummary          StringList `gorm:"type:text;serializer:json"`
	ErrorCount            int        `gorm:"not null;default:0"`
	CircuitBreakerTripped bool       `gorm:"not null;default:false"`
	WorkflowID            string     `gorm:"size:128;index"`
	CreatedAt             time.Time  `gorm:"autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime"`
}

// StringList is a JSON-serialized list of strings stored in a single column.
type StringList []string

// NewBatchJob creates a pending BatchJob for the given job type and workflow.
func NewBatchJob(jobType, workflowID string) *BatchJob {
	return &BatchJob{
		ID:           NewID(),
		JobType:      jobType,
		Status:       JobStatusPending,
		WorkflowID:   workflowID,
		ErrorSummary: make(StringList, 0),
	}
}

// RecordError appends an error message to the capped summary list and always
// increments the running total.
func (j *BatchJob) RecordError(msg string) {
	j.ErrorCount++
	if len(j.ErrorSummary) < MaxStoredErrors {
		j.ErrorSummary = append(j.ErrorSummary, msg)
	}
}

// AddProgress adds to the completed/failed counters. Counters only increase.
func (j *BatchJob) AddProgress(completed, failed int) {
	if completed > 0 {
		j.CompletedTasks += completed
	}
	if failed > 0 {
		j.FailedTasks += failed
	}
}

// isValidJobTransition checks if the state transition for a BatchJob is valid.
func isValidJobTransition(current, next JobStatus) bool {
	switch current {
	case JobStatusPending:
		return next == JobStatusInProgress || next == JobStatusFailed
	case JobStatusInProgress:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// TransitionTo safely transitions the BatchJob status.
func (j *BatchJob) TransitionTo(next JobStatus) error {
	if !isValidJobTransition(j.Status, next) {
		return fmt.Errorf("BatchJob (ID: %s): invalid state transition: %s -> %s", j.ID, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	return nil
}

// SimulationConfig is the configuration snapshot captured when a simulation
// run is created. The orchestrator never re-reads live configuration.
type SimulationConfig struct {
	MaxAgents          int      `json:"max_agents" yaml:"max_agents"`
	TurnCadenceSeconds int      `json:"turn_cadence_seconds" yaml:"turn_cadence_seconds"`
	RemovalRate        float64  `json:"removal_rate" yaml:"removal_rate"`
	MaxTurnsPerAgent   int      `json:"max_turns_per_agent" yaml:"max_turns_per_agent"`
	AgentProfileIDs    []string `json:"agent_profile_ids" yaml:"agent_profile_ids"`
	CommunityID        string   `json:"community_id" yaml:"community_id"`
}

// RunMetrics holds cumulative metrics for a simulation run, persisted as JSON.
type RunMetrics map[string]interface{}

// SimulationRun is one population simulation.
type SimulationRun struct {
	ID     string    `gorm:"primaryKey;size:36"`
	Status RunStatus `gorm:"size:20;not null;default:'PENDING';index"`
	// Attempt counts execution epochs of the run. Workflow checkpoints are
	// scoped to one attempt, so a fresh epoch (first start, operator resume)
	// never replays results recorded by an earlier one. A crash leaves the run
	// RUNNING with its attempt unchanged, which is what makes replay safe.
	Attempt   int              `gorm:"not null;default:0"`
	Config    SimulationConfig `gorm:"type:text;serializer:json"`
	Metrics   RunMetrics       `gorm:"type:text;serializer:json"`
	CreatedAt time.Time        `gorm:"autoCreateTime"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime"`
}

// NewSimulationRun creates a pending SimulationRun with the given config snapshot.
func NewSimulationRun(cfg SimulationConfig) *SimulationRun {
	return &SimulationRun{
		ID:      NewID(),
		Status:  RunStatusPending,
		Config:  cfg,
		Metrics: make(RunMetrics),
	}
}

// isValidRunTransition checks if the state transition for a SimulationRun is valid.
func isValidRunTransition(current, next RunStatus) bool {
	switch current {
	case RunStatusPending:
		return next == RunStatusRunning || next == RunStatusCancelled || next == RunStatusFailed
	case RunStatusRunning:
		return next == RunStatusPaused || next == RunStatusCompleted || next == RunStatusCancelled || next == RunStatusFailed
	case RunStatusPaused:
		return next == RunStatusRunning || next == RunStatusCompleted || next == RunStatusCancelled || next == RunStatusFailed
	default:
		return false
	}
}

// TransitionTo safely transitions the SimulationRun status.
func (r *SimulationRun) TransitionTo(next RunStatus) error {
	if !isValidRunTransition(r.Status, next) {
		return fmt.Errorf("SimulationRun (ID: %s): invalid state transition: %s -> %s", r.ID, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = time.Now()
	return nil
}

// RemovalReasonMaxRetries is recorded on agents evicted after exhausting turn retries.
const RemovalReasonMaxRetries = "max_retries_exceeded"

// RemovalReasonRunEnded is recorded on agents terminalized at run finalize.
const RemovalReasonRunEnded = "run_ended"

// RemovalReasonRandom is recorded on agents evicted by the probabilistic
// population-pressure removal.
const RemovalReasonRandom = "random_removal"

// SimAgentInstance is one simulated participant in a run.
type SimAgentInstance struct {
	ID              string     `gorm:"primaryKey;size:36"`
	SimulationRunID string     `gorm:"size:36;not null;index"`
	AgentProfileID  string     `gorm:"size:36;not null"`
	UserProfileID   string     `gorm:"size:36;not null"`
	State           AgentState `gorm:"size:16;not null;default:'ACTIVE';index"`
	TurnCount       int        `gorm:"not null;default:0"`
	RetryCount      int        `gorm:"not null;default:0"`
	RemovalReason   string     `gorm:"size:64"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

// NewSimAgentInstance creates an active agent instance for the given run and profile.
func NewSimAgentInstance(runID, agentProfileID, userProfileID string) *SimAgentInstance {
	return &SimAgentInstance{
		ID:              NewID(),
		SimulationRunID: runID,
		AgentProfileID:  agentProfileID,
		UserProfileID:   userProfileID,
		State:           AgentStateActive,
	}
}

// TurnWorkflowID derives the deterministic workflow id for an agent's turn
// dispatch. Keying on agent+turn+retry makes redispatch after a crash
// idempotent: enqueueing the same id is a no-op.
func TurnWorkflowID(agentID string, turn, retry int) string {
	return fmt.Sprintf("agent-turn-%s-%d-%d", agentID, turn, retry)
}

// PopulationWorkflowID derives the workflow id for one execution attempt of a
// population run. Keying on the attempt scopes checkpoints to a single epoch:
// a resumed run gets a fresh id and never replays an earlier execution.
func PopulationWorkflowID(runID string, attempt int) string {
	return fmt.Sprintf("population-%s-%d", runID, attempt)
}

// ScanWorkflowID derives the deterministic coordinator workflow id for a
// content scan, keyed on the scan id for dispatch idempotency.
func ScanWorkflowID(scanID string) string {
	return fmt.Sprintf("content-scan-%s", scanID)
}

// PopulationSnapshot captures population counts at the top of a loop iteration.
type PopulationSnapshot struct {
	Active       int `json:"active"`
	TotalSpawned int `json:"total_spawned"`
	TotalRemoved int `json:"total_removed"`
}

// BatchCompleteSignal is the payload workers send the scan coordinator when
// one message batch finishes.
type BatchCompleteSignal struct {
	Processed    int `json:"processed"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
	FlaggedCount int `json:"flagged_count"`
}

// AllTransmittedSignal is the payload the producer sends once it has finished
// dispatching batches.
type AllTransmittedSignal struct {
	MessagesScanned int `json:"messages_scanned"`
}

// ScanResult is the aggregate persisted when a content scan finalizes.
type ScanResult struct {
	ScanID          string     `json:"scan_id"`
	Status          ScanStatus `json:"status"`
	MessagesScanned int        `json:"messages_scanned"`
	Processed       int        `json:"processed"`
	Skipped         int        `json:"skipped"`
	Errors          int        `json:"errors"`
	FlaggedCount    int        `json:"flagged_count"`
	TimedOut        bool       `json:"timed_out"`
	CompletedAt     time.Time  `json:"completed_at"`
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
