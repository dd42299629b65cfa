package paymentlink

import "go.uber.org/fx"

var Module = fx.Module("paymentlink.service",
	fx.Provide(ProvideIssuer, NewHandler),
	fx.Invoke(RegisterRoutes),
)
