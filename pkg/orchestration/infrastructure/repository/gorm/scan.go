package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
)

// scanResultRecord is the table representation of a finalized scan aggregate.
type scanResultRecord struct {
	ScanID          string           `gorm:"primaryKey;size:36"`
	Status          model.ScanStatus `gorm:"size:20;not null"`
	MessagesScanned int              `gorm:"not null;default:0"`
	Processed       int              `gorm:"not null;default:0"`
	Skipped         int              `gorm:"not null;default:0"`
	Errors          int              `gorm:"not null;default:0"`
	FlaggedCount    int              `gorm:"not null;default:0"`
	TimedOut        bool             `gorm:"not null;default:false"`
	CompletedAt     time.Time
}

func (scanResultRecord) TableName() string {
	return "scan_results"
}

func toScanResultRecord(result *model.ScanResult) *scanResultRecord {
	return &scanResultRecord{
		ScanID:          result.ScanID,
		Status:          result.Status,
		MessagesScanned: result.MessagesScanned,
		Processed:       result.Processed,
		Skipped:         result.Skipped,
		Errors:          result.Errors,
		FlaggedCount:    result.FlaggedCount,
		TimedOut:        result.TimedOut,
		CompletedAt:     result.CompletedAt,
	}
}

func (rec *scanResultRecord) toModel() *model.ScanResult {
	return &model.ScanResult{
		ScanID:          rec.ScanID,
		Status:          rec.Status,
		MessagesScanned: rec.MessagesScanned,
		Processed:       rec.Processed,
		Skipped:         rec.Skipped,
		Errors:          rec.Errors,
		FlaggedCount:    rec.FlaggedCount,
		TimedOut:        rec.TimedOut,
		CompletedAt:     rec.CompletedAt,
	}
}

// SaveScanResult persists or replaces the aggregate for a scan. Finalize can
// run twice after a coordinator restart, so the write is an upsert.
func (r *GormRepository) SaveScanResult(ctx context.Context, result *model.ScanResult) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scan_id"}},
			UpdateAll: true,
		}).
		Create(toScanResultRecord(result)).Error
}

// FindScanResult retrieves the aggregate for a scan id.
func (r *GormRepository) FindScanResult(ctx context.Context, scanID string) (*model.ScanResult, error) {
	var rec scanResultRecord
	err := r.db.WithContext(ctx).First(&rec, "scan_id = ?", scanID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrScanResultNotFound
		}
		return nil, err
	}
	return rec.toModel(), nil
}
