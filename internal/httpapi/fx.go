package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"statuslicense/pkg/health"
)

var Module = fx.Module("httpapi.module",
	fx.Provide(New),
	fx.Invoke(registerRoutes),
)

func registerRoutes(engine *gin.Engine, h *Handler, hs health.HealthService) {
	engine.GET("/healthz", hs.Liveness)
	engine.GET("/readyz", hs.Readiness)
	h.Register(engine)
}
