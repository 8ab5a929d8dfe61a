// Package inmemory provides an in-memory implementation of the
// OrchestrationRepository interface. It stores all orchestration metadata in
// maps within memory, suitable for testing and scenarios where persistence is
// not required.
package inmemory

import (
	"sync"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
)

// InMemoryRepository is an in-memory implementation of OrchestrationRepository.
type InMemoryRepository struct {
	batchJobs  map[string]*model.BatchJob
	candidates []*model.NoteCandidate
	runs       map[string]*model.SimulationRun
	agents     map[string]*model.SimAgentInstance
	scans      map[string]*model.ScanResult

	// ApplyBatchHook, when set, is consulted before a batch mutation and can
	// force the whole batch to fail. Tests use it to simulate transaction
	// rollbacks.
	ApplyBatchHook func(jobType string, batch []model.NoteCandidate) error

	nextSeq int64
	mu      sync.RWMutex
}

// NewInMemoryRepository creates and initializes a new InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		batchJobs: make(map[string]*model.BatchJob),
		runs:      make(map[string]*model.SimulationRun),
		agents:    make(map[string]*model.SimAgentInstance),
		scans:     make(map[string]*model.ScanResult),
	}
}

// Close releases resources used by the repository. As an in-memory
// repository, it holds no external resources, so this always returns nil.
func (r *InMemoryRepository) Close() error {
	return nil
}
