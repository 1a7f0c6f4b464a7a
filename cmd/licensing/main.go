package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"statuslicense/internal/httpapi"
	"statuslicense/pkg/config"
	"statuslicense/pkg/db"
	"statuslicense/pkg/gen"
	"statuslicense/pkg/hashistack/secretmanager"
	"statuslicense/pkg/health"
	"statuslicense/pkg/logger"
	"statuslicense/pkg/otelcol"
	"statuslicense/pkg/profiling"
	"statuslicense/pkg/redis"
	"statuslicense/pkg/server"
	"statuslicense/pkg/task"
	"statuslicense/services/billing"
	"statuslicense/services/license"
	"statuslicense/services/notification"
	"statuslicense/services/organization"
)

// licensing is the API process: admin HTTP surface, vendor webhook, and
// the read path for entitlements. Background work lives in cmd/worker.
func main() {
	app := fx.New(
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		profiling.Module,
		health.Module,

		organization.Module,
		billing.Module,
		notification.Module,
		license.Module,

		httpapi.Module,
		server.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
