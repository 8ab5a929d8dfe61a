package batch

import (
	"go.uber.org/fx"
)

// Module provides the checkpointed batch processor.
var Module = fx.Options(
	fx.Provide(NewProcessor),
)
