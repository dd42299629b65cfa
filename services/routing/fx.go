package routing

import "go.uber.org/fx"

var Module = fx.Module("routing.service",
	fx.Provide(ProvideResolver, NewHandler),
	fx.Invoke(RegisterRoutes),
)
