package linkage

import "go.uber.org/fx"

var Module = fx.Module("linkage.service",
	fx.Provide(NewResolver),
)

// Worker registers the retry handler on the asynq mux.
var Worker = fx.Module("linkage.worker",
	fx.Invoke(RegisterHandlers),
)
