package grace

import "go.uber.org/fx"

var Module = fx.Module("grace.module",
	fx.Provide(
		NewProcessor,
		NewTaskHandler,
	),
)
