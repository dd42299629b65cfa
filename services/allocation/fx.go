package allocation

import "go.uber.org/fx"

var Module = fx.Module("allocation.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(RegisterRoutes),
)
