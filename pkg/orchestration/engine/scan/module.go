package scan

import (
	"go.uber.org/fx"
)

// Module provides the scan coordinator and batch worker.
var Module = fx.Options(
	fx.Provide(NewCoordinator),
	fx.Provide(NewWorker),
)
