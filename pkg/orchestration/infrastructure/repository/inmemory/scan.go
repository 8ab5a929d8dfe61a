package inmemory

import (
	"context"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
)

// SaveScanResult persists or replaces the aggregate for a scan.
func (r *InMemoryRepository) SaveScanResult(ctx context.Context, result *model.ScanResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cloned := *result
	r.scans[result.ScanID] = &cloned
	return nil
}

// FindScanResult retrieves the aggregate for a scan id.
func (r *InMemoryRepository) FindScanResult(ctx context.Context, scanID string) (*model.ScanResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.scans[scanID]
	if !ok {
		return nil, repository.ErrScanResultNotFound
	}
	cloned := *result
	return &cloned, nil
}
