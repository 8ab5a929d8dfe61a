package admission

import (
	"go.uber.org/fx"

	"github.com/factweave/factweave/pkg/orchestration/core/config"
)

// Module provides the admission gate built from the configured pools.
var Module = fx.Options(
	fx.Provide(
		func(cfg *config.Config) *Gate {
			return NewGate(cfg.Factweave.Admission)
		},
	),
)
