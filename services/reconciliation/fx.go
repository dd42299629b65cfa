package reconciliation

import "go.uber.org/fx"

var Module = fx.Module("reconciliation.service",
	fx.Provide(ProvidePipeline, NewHandler),
	fx.Invoke(RegisterRoutes),
)

// Worker runs the periodic linkage sweep.
var Worker = fx.Module("reconciliation.worker",
	fx.Provide(NewSweeper),
	fx.Invoke(RegisterSweepHandler, StartSweeper),
)
