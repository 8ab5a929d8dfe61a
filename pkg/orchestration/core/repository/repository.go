// Package repository defines the persistence boundary of the orchestration
// layer. Orchestrators depend only on these interfaces; in-memory and gorm
// implementations live under infrastructure/repository.
package repository

import (
	"errors"
)

// ErrBatchJobNotFound is returned when a BatchJob is not found.
var ErrBatchJobNotFound = errors.New("batch job not found")

// ErrSimulationRunNotFound is returned when a SimulationRun is not found.
var ErrSimulationRunNotFound = errors.New("simulation run not found")

// ErrAgentNotFound is returned when no matching agent instance exists or none
// could be claimed.
var ErrAgentNotFound = errors.New("agent instance not found")

// ErrScanResultNotFound is returned when no scan aggregate exists for an id.
var ErrScanResultNotFound = errors.New("scan result not found")

// ErrInvalidTransition is returned when an atomic status transition matched no
// row, i.e. the entity was not in any of the expected source states.
var ErrInvalidTransition = errors.New("invalid status transition")

// OrchestrationRepository aggregates the persistence operations of the
// orchestration layer. It embeds the per-entity interfaces to separate
// concerns, in the manner of a batch framework's job repository.
type OrchestrationRepository interface {
	BatchJobRepository
	CandidateRepository
	SimulationRepository
	ScanResultRepository

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
