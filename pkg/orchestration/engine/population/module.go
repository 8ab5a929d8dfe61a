package population

import (
	"go.uber.org/fx"
)

// Module provides the population orchestrator and its run operator.
var Module = fx.Options(
	fx.Provide(NewOrchestrator),
	fx.Provide(NewOperator),
)
