package runtime

import (
	"go.uber.org/fx"
)

// Module provides the system clock and the local durable runtime.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewSystemClock,
			fx.As(new(Clock)),
		),
	),
	fx.Provide(
		NewLocalRuntime,
		fx.Annotate(
			func(r *LocalRuntime) Runtime { return r },
		),
	),
)
