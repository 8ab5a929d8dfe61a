package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/factweave/factweave/pkg/orchestration/core/repository"
)

// Module is an Fx module that provides InMemoryRepository as the
// repository.OrchestrationRepository interface.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryRepository,
			fx.As(new(repository.OrchestrationRepository)),
		),
	),
)
