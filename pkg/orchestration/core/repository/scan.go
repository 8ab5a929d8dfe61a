package repository

import (
	"context"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
)

// ScanResultRepository persists finalized content-scan aggregates.
type ScanResultRepository interface {
	// SaveScanResult persists or replaces the aggregate for a scan.
	SaveScanResult(ctx context.Context, result *model.ScanResult) error

	// FindScanResult retrieves the aggregate for a scan id.
	FindScanResult(ctx context.Context, scanID string) (*model.ScanResult, error)
}
