package gorm

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsTable = "orchestration_schema_migrations"

// applyVersionedMigrations runs the embedded SQL migrations against a
// PostgreSQL backend. Embedded (sqlite) databases are migrated with
// AutoMigrate instead; they are throwaway and never shared.
func applyVersionedMigrations(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return exception.NewOrchestrationError(componentName, "failed to get underlying sql.DB", err, false)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return exception.NewOrchestrationError(componentName, "failed to create migration source", err, false)
	}

	dbDriver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return exception.NewOrchestrationError(componentName, "failed to create migration driver", err, false)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return exception.NewOrchestrationError(componentName, "failed to create migrate instance", err, false)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewOrchestrationError(componentName, "failed to apply migrations", err, false)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return exception.NewOrchestrationError(componentName, "failed to read migration version", err, false)
	}
	logger.Infof("Schema migrations applied (version: %d, dirty: %t).", version, dirty)
	return nil
}
