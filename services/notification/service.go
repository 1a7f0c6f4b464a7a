package notification

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"statuslicense/pkg/task"
	"statuslicense/pkg/taskname"
)

// Dispatcher enqueues notification intents on the notifications queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent Intent) error
}

type dispatcher struct {
	enqueuer task.Enqueuer
}

type Params struct {
	fx.In

	Enqueuer task.Enqueuer
}

func NewDispatcher(p Params) Dispatcher {
	return &dispatcher{enqueuer: p.Enqueuer}
}

func (d *dispatcher) Dispatch(ctx context.Context, intent Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}

	_, err = d.enqueuer.Enqueue(
		asynq.NewTask(taskname.NotificationDispatch, payload),
		asynq.Queue("notifications"),
		asynq.MaxRetry(5),
	)
	if err != nil {
		return err
	}

	zap.L().Info("notification enqueued",
		zap.String("kind", string(intent.Kind)),
		zap.String("organization_id", intent.OrganizationID),
		zap.String("license_id", intent.LicenseID),
	)
	return nil
}

// Sink delivers an intent over a concrete channel (email, chat, webhook).
type Sink interface {
	Deliver(ctx context.Context, intent Intent) error
}

// logSink is the default sink. It records the intent and succeeds, so
// environments without a delivery channel still drain the queue.
type logSink struct{}

func NewLogSink() Sink {
	return logSink{}
}

func (logSink) Deliver(_ context.Context, intent Intent) error {
	zap.L().Info("notification delivered",
		zap.String("kind", string(intent.Kind)),
		zap.String("organization_id", intent.OrganizationID),
		zap.String("license_id", intent.LicenseID),
		zap.Int("days_remaining", intent.DaysRemaining),
		zap.Bool("is_urgent", intent.IsUrgent),
		zap.Bool("is_final", intent.IsFinal),
	)
	return nil
}
