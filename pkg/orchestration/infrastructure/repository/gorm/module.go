package gorm

import (
	"go.uber.org/fx"

	"github.com/factweave/factweave/pkg/orchestration/core/config"
	"github.com/factweave/factweave/pkg/orchestration/core/repository"
)

// newRepositoryFromConfig resolves the "metadata" database entry and opens
// the repository against it.
func newRepositoryFromConfig(cfg *config.Config) (*GormRepository, error) {
	dbCfg, err := cfg.DatabaseConfigFor("metadata")
	if err != nil {
		return nil, err
	}
	return NewGormRepository(dbCfg)
}

// Module is an Fx module that provides GormRepository as the
// repository.OrchestrationRepository interface.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			newRepositoryFromConfig,
			fx.As(new(repository.OrchestrationRepository)),
		),
	),
)
