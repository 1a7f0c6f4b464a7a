package notification

import "go.uber.org/fx"

var Module = fx.Module("notification.module",
	fx.Provide(
		NewDispatcher,
	),
)

// WorkerModule wires the dispatch consumer. Only the worker process
// loads it.
var WorkerModule = fx.Module("notification.worker",
	fx.Provide(
		NewLogSink,
		NewTaskHandler,
	),
)
