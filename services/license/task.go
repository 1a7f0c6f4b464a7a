package license

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"statuslicense/pkg/errutil"
	"statuslicense/pkg/rediskey"
	"statuslicense/pkg/task"
	"statuslicense/pkg/taskname"
	"statuslicense/services/billing"
	"statuslicense/services/notification"
)

const (
	sweepBatchSize   = 100
	expiryWarnWindow = 7 * 24 * time.Hour
	expiryWarnEvery  = 24 * time.Hour
)

type ValidatePayload struct {
	LicenseID string `json:"license_id"`
}

// TaskHandler runs the periodic validation sweep: one fan-out task that
// walks every license and enqueues a single-license validation for each
// one that is due.
type TaskHandler struct {
	svc      Service
	enqueuer task.Enqueuer
	rdb      *goredis.Client
	notify   notification.Dispatcher
}

type TaskParams struct {
	fx.In

	Service  Service
	Enqueuer task.Enqueuer
	Redis    *goredis.Client
	Notify   notification.Dispatcher
}

func NewTaskHandler(p TaskParams) *TaskHandler {
	return &TaskHandler{
		svc:      p.Service,
		enqueuer: p.Enqueuer,
		rdb:      p.Redis,
		notify:   p.Notify,
	}
}

func (h *TaskHandler) HandleValidateRun(ctx context.Context, _ *asynq.Task) error {
	now := time.Now()
	afterID := ""
	var walked, due int

	for {
		batch, err := h.svc.ListBatch(ctx, afterID, sweepBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		for _, l := range batch {
			walked++
			afterID = l.ID

			h.maybeWarnExpiry(ctx, l, now)

			if !IsValidationDue(l.LastValidatedAt, l.LastValidationResult, l.ConsecutiveFailures, now) {
				continue
			}

			payload, err := json.Marshal(ValidatePayload{LicenseID: l.ID})
			if err != nil {
				return err
			}
			if _, err := h.enqueuer.Enqueue(
				asynq.NewTask(taskname.LicenseValidateOne, payload),
				asynq.Queue("default"),
				asynq.MaxRetry(3),
			); err != nil {
				zap.L().Error("failed to enqueue license validation",
					zap.String("license_id", l.ID),
					zap.Error(err),
				)
				continue
			}
			due++
		}
	}

	zap.L().Info("validation sweep complete",
		zap.Int("walked", walked),
		zap.Int("due", due),
	)
	return nil
}

func (h *TaskHandler) HandleValidateOne(ctx context.Context, t *asynq.Task) error {
	var payload ValidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode validate payload: %w: %w", err, asynq.SkipRetry)
	}

	l, err := h.svc.Validate(ctx, payload.LicenseID, billing.SourceSystem)
	if err != nil {
		if errutil.HasStatus(err, errutil.StatusNotFound) {
			// deleted between sweep and execution
			return nil
		}
		return err
	}

	zap.L().Info("license validated",
		zap.String("license_id", l.ID),
		zap.String("status", string(l.Status)),
		zap.String("code", l.LastValidationCode),
		zap.Int("consecutive_failures", l.ConsecutiveFailures),
	)
	return nil
}

// maybeWarnExpiry sends at most one upcoming-expiry notice per license
// per day during the final week of validity. The redis NX key is the
// dedupe; losing it only repeats a warning.
func (h *TaskHandler) maybeWarnExpiry(ctx context.Context, l *License, now time.Time) {
	if l.Status != StatusActive || l.ExpiresAt == nil {
		return
	}
	until := l.ExpiresAt.Sub(now)
	if until <= 0 || until > expiryWarnWindow {
		return
	}

	ok, err := h.rdb.SetNX(ctx, rediskey.BuildExpiryWarningKey(l.ID), now.Unix(), expiryWarnEvery).Result()
	if err != nil || !ok {
		return
	}

	days := int(math.Ceil(until.Hours() / 24))
	if err := h.notify.Dispatch(ctx, notification.Intent{
		Kind:           notification.KindExpiryWarning,
		OrganizationID: l.OrganizationID,
		LicenseID:      l.ID,
		LicenseeEmail:  l.LicenseeEmail,
		LicenseeName:   l.LicenseeName,
		Plan:           l.Plan,
		DaysRemaining:  days,
		ExpiresAt:      *l.ExpiresAt,
	}); err != nil {
		zap.L().Error("failed to enqueue expiry warning",
			zap.String("license_id", l.ID),
			zap.Error(err),
		)
	}
}
