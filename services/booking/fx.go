package booking

import "go.uber.org/fx"

var Module = fx.Module("booking.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(RegisterRoutes),
)
