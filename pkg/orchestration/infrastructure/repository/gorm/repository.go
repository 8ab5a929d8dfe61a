// Package gorm provides the GORM-backed implementation of the
// OrchestrationRepository interface for SQLite and PostgreSQL backends.
// Claim-and-skip locking is implemented with FOR UPDATE SKIP LOCKED on
// backends that support it.
package gorm

import (
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/core/model"
	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

const componentName = "gorm_repository"

// GormRepository is the GORM-backed implementation of OrchestrationRepository.
type GormRepository struct {
	db *gorm.DB
	// skipLocked reflects whether the backend supports FOR UPDATE SKIP LOCKED.
	// SQLite serializes writers, so plain row claiming is already safe there.
	skipLocked bool
}

// openDialector resolves the configured driver into a gorm.Dialector.
func openDialector(cfg *config.DatabaseConfig) (gorm.Dialector, bool, error) {
	switch cfg.Driver {
	case "sqlite":
		if cfg.DSN == "" {
			return nil, false, errors.New("sqlite dsn cannot be empty")
		}
		return sqlite.Open(cfg.DSN), false, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, false, errors.New("postgres dsn cannot be empty")
		}
		return postgres.Open(cfg.DSN), true, nil
	default:
		return nil, false, exception.NewOrchestrationErrorf(componentName, "unsupported database driver '%s'", cfg.Driver)
	}
}

// NewGormRepository opens a connection for the configured driver and ensures
// the orchestration metadata schema exists.
func NewGormRepository(cfg *config.DatabaseConfig) (*GormRepository, error) {
	dialector, skipLocked, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, exception.NewOrchestrationError(componentName, "failed to open database connection", err, false)
	}

	repo := &GormRepository{db: db, skipLocked: skipLocked}
	if skipLocked {
		// PostgreSQL deployments are shared; schema changes go through
		// versioned SQL migrations.
		if err := applyVersionedMigrations(db); err != nil {
			return nil, err
		}
	} else if err := repo.migrateSchema(); err != nil {
		return nil, err
	}
	logger.Infof("GormRepository initialized (driver: %s).", cfg.Driver)
	return repo, nil
}

// NewGormRepositoryWithDB wraps an already opened *gorm.DB. Used by tests.
func NewGormRepositoryWithDB(db *gorm.DB, skipLocked bool) (*GormRepository, error) {
	repo := &GormRepository{db: db, skipLocked: skipLocked}
	if err := repo.migrateSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

// migrateSchema creates or updates the orchestration metadata tables.
// Versioned SQL migrations (golang-migrate) drive production deployments;
// AutoMigrate keeps embedded and test databases in step with the models.
func (r *GormRepository) migrateSchema() error {
	if err := r.db.AutoMigrate(
		&model.BatchJob{},
		&model.NoteCandidate{},
		&model.SimulationRun{},
		&model.SimAgentInstance{},
		&scanResultRecord{},
	); err != nil {
		return exception.NewOrchestrationError(componentName, "failed to migrate schema", err, false)
	}
	return nil
}

// Close releases the underlying database connection.
func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
