package grace

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"statuslicense/pkg/config"
	"statuslicense/pkg/featureflags"
	"statuslicense/pkg/rediskey"
	"statuslicense/services/billing"
	"statuslicense/services/entitlement"
	"statuslicense/services/license"
	"statuslicense/services/notification"
)

const dryRunFlag = "grace_processor_dry_run"

// Processor walks every license in an active grace period and executes
// whatever the state machine says is due. Each license is handled in
// its own transaction, so one failure never aborts the rest of the
// batch.
type Processor struct {
	db     *gorm.DB
	events billing.Recorder
	notify notification.Dispatcher
	flags  featureflags.FeatureFlag
	rdb    *goredis.Client
	cfg    *config.Config
}

type ProcessorParams struct {
	fx.In

	DB     *gorm.DB
	Events billing.Recorder
	Notify notification.Dispatcher
	Flags  featureflags.FeatureFlag `optional:"true"`
	Redis  *goredis.Client
	Config *config.Config
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		db:     p.DB,
		events: p.Events,
		notify: p.Notify,
		flags:  p.Flags,
		rdb:    p.Redis,
		cfg:    p.Config,
	}
}

// Run executes one processor pass over all active grace periods.
func (p *Processor) Run(ctx context.Context) error {
	now := time.Now()
	dryRun := p.flags != nil && p.flags.IsEnabled(ctx, dryRunFlag, false)

	var batch []*license.License
	err := p.db.WithContext(ctx).
		Where("grace_state = ?", license.GraceStateActive).
		Order("id ASC").
		Find(&batch).Error
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	concurrency := p.cfg.Grace.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	for _, l := range batch {
		l := l
		g.Go(func() error {
			action, err := p.ProcessLicense(gctx, l, now, dryRun)
			if err != nil {
				// isolate: log and keep going with the rest
				zap.L().Error("grace processing failed",
					zap.String("license_id", l.ID),
					zap.String("organization_id", l.OrganizationID),
					zap.Error(err),
				)
				return nil
			}
			if action != ActionSkipped {
				zap.L().Info("grace processed",
					zap.String("license_id", l.ID),
					zap.String("action", string(action)),
					zap.Bool("dry_run", dryRun),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	zap.L().Info("grace pass complete",
		zap.Int("licenses", len(batch)),
		zap.Bool("dry_run", dryRun),
	)
	return nil
}

// ProcessLicense applies the state machine to one license. The write
// behind each action is guarded so that two concurrent passes cannot
// both send the same reminder or both downgrade.
func (p *Processor) ProcessLicense(ctx context.Context, l *license.License, now time.Time, dryRun bool) (Action, error) {
	d := Decide(l, now)

	switch d.Action {
	case ActionSkippedMalformed:
		zap.L().Warn("grace period active without deadline, skipping",
			zap.String("license_id", l.ID),
			zap.String("organization_id", l.OrganizationID),
		)
		return d.Action, nil

	case ActionReminderSent:
		if dryRun {
			return d.Action, nil
		}
		return d.Action, p.sendReminder(ctx, l, d.DaysRemaining)

	case ActionDowngraded:
		if dryRun {
			return d.Action, nil
		}
		return d.Action, p.downgrade(ctx, l)

	default:
		return ActionSkipped, nil
	}
}

// sendReminder marks the milestone and emits exactly one reminder. The
// NOT LIKE guard works because milestones are single digits, so a
// stored set can never contain a milestone value as a substring of
// another.
func (p *Processor) sendReminder(ctx context.Context, l *license.License, days int) error {
	var sent bool
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated := *l
		updated.MarkMilestone(days)

		res := tx.Model(&license.License{}).
			Where("id = ? AND grace_state = ?", l.ID, license.GraceStateActive).
			Where("grace_milestones IS NULL OR grace_milestones NOT LIKE ?", fmt.Sprintf("%%%d%%", days)).
			Update("grace_milestones", updated.GraceMilestones)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// another pass won the race
			return nil
		}
		sent = true
		l.GraceMilestones = updated.GraceMilestones

		return p.events.RecordTx(ctx, tx, &billing.BillingEvent{
			OrganizationID: l.OrganizationID,
			LicenseID:      l.ID,
			Type:           billing.EventGracePeriodReminder,
			Metadata: billing.Meta(map[string]interface{}{
				"days_remaining": days,
				"is_urgent":      days <= 1,
				"is_final":       days == 0,
			}),
		})
	})
	if err != nil || !sent {
		return err
	}

	if err := p.notify.Dispatch(ctx, notification.Intent{
		Kind:           notification.KindGracePeriodReminder,
		OrganizationID: l.OrganizationID,
		LicenseID:      l.ID,
		LicenseeEmail:  l.LicenseeEmail,
		LicenseeName:   l.LicenseeName,
		Plan:           l.Plan,
		DaysRemaining:  days,
		IsUrgent:       days <= 1,
		IsFinal:        days == 0,
	}); err != nil {
		// the milestone is already committed: log, never unwind
		zap.L().Error("failed to enqueue grace reminder",
			zap.String("license_id", l.ID),
			zap.Int("days_remaining", days),
			zap.Error(err),
		)
	}
	return nil
}

// downgrade ends the grace period and drops the organization to the
// free entitlements. Guarded on grace_state so it happens exactly once.
func (p *Processor) downgrade(ctx context.Context, l *license.License) error {
	freeSet := entitlement.Merge(entitlement.FreeGrant())
	freeJSON := entitlement.ToJSON(freeSet)

	prevState := billing.Meta(map[string]interface{}{
		"plan":         l.Plan,
		"status":       l.Status,
		"entitlements": l.Entitlements,
	})
	newState := billing.Meta(map[string]interface{}{
		"plan":         "free",
		"entitlements": freeJSON,
	})
	previousPlan := l.Plan

	var downgraded bool
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&license.License{}).
			Where("id = ? AND grace_state = ?", l.ID, license.GraceStateActive).
			Updates(map[string]interface{}{
				"grace_state":  license.GraceStateExpired,
				"plan":         "free",
				"entitlements": freeJSON,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		downgraded = true
		l.GraceState = license.GraceStateExpired
		l.Plan = "free"
		l.Entitlements = freeJSON

		if err := p.events.RecordTx(ctx, tx, &billing.BillingEvent{
			OrganizationID: l.OrganizationID,
			LicenseID:      l.ID,
			Type:           billing.EventGracePeriodEnded,
			PreviousState:  prevState,
			NewState:       newState,
		}); err != nil {
			return err
		}
		return p.events.RecordTx(ctx, tx, &billing.BillingEvent{
			OrganizationID: l.OrganizationID,
			LicenseID:      l.ID,
			Type:           billing.EventDowngraded,
			Detail:         fmt.Sprintf("%s -> free", previousPlan),
			Metadata: billing.Meta(map[string]interface{}{
				"previous_plan": previousPlan,
				"reason":        "grace_period_expired",
			}),
		})
	})
	if err != nil || !downgraded {
		return err
	}

	// cached paid entitlements are now wrong
	if err := p.rdb.Del(ctx, rediskey.BuildEntitlementKey(l.OrganizationID)).Err(); err != nil {
		zap.L().Warn("entitlement cache invalidation failed",
			zap.String("organization_id", l.OrganizationID),
			zap.Error(err),
		)
	}

	if err := p.notify.Dispatch(ctx, notification.Intent{
		Kind:           notification.KindDowngradeNotice,
		OrganizationID: l.OrganizationID,
		LicenseID:      l.ID,
		LicenseeEmail:  l.LicenseeEmail,
		LicenseeName:   l.LicenseeName,
		Plan:           previousPlan,
	}); err != nil {
		zap.L().Error("failed to enqueue downgrade notice",
			zap.String("license_id", l.ID),
			zap.Error(err),
		)
	}
	return nil
}
