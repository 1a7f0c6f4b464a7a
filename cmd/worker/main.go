package main

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"statuslicense/pkg/config"
	"statuslicense/pkg/db"
	"statuslicense/pkg/featureflags"
	"statuslicense/pkg/gen"
	"statuslicense/pkg/hashistack/secretmanager"
	"statuslicense/pkg/logger"
	"statuslicense/pkg/otelcol"
	"statuslicense/pkg/profiling"
	"statuslicense/pkg/redis"
	"statuslicense/pkg/task"
	"statuslicense/pkg/taskname"
	"statuslicense/services/billing"
	"statuslicense/services/grace"
	"statuslicense/services/license"
	"statuslicense/services/notification"
	"statuslicense/services/organization"
	"statuslicense/services/scheduler"
)

// worker runs the periodic scheduler and consumes every queue: the
// validation sweep, the grace processor pass, and notification
// dispatch.
func main() {
	app := fx.New(
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		featureflags.Module,
		task.Client,
		task.Server,
		profiling.Module,

		organization.Module,
		billing.Module,
		notification.Module,
		notification.WorkerModule,
		license.Module,
		license.WorkerModule,
		grace.Module,
		scheduler.Module,

		fx.Invoke(registerHandlers),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerHandlers(
	mux *asynq.ServeMux,
	licenses *license.TaskHandler,
	graces *grace.TaskHandler,
	notifications *notification.TaskHandler,
) {
	mux.HandleFunc(taskname.LicenseValidateRun, licenses.HandleValidateRun)
	mux.HandleFunc(taskname.LicenseValidateOne, licenses.HandleValidateOne)
	mux.HandleFunc(taskname.LicenseGraceRun, graces.HandleGraceRun)
	mux.HandleFunc(taskname.NotificationDispatch, notifications.HandleDispatch)
}
