package httpapi

import (
	"net/http"

	"creator-booking/pkg/config"
	"creator-booking/pkg/health"
	"creator-booking/pkg/identity"
	"creator-booking/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
	fx.Invoke(registerHealthEndpoint),
)

type RouterParams struct {
	fx.In
	Config *config.Config
	Lookup identity.Lookup
}

// NewRouter builds the gin engine with the shared middleware chain. Service
// handlers attach their own routes to it.
func NewRouter(p RouterParams) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Tracing(p.Config.AppName),
		middleware.Error(),
		middleware.Identity(p.Lookup),
	)
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "route not found"}})
	})

	return r
}

func registerHealthEndpoint(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
