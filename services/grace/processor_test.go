package grace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"statuslicense/pkg/config"
	"statuslicense/pkg/repository"
	"statuslicense/services/billing"
	"statuslicense/services/entitlement"
	"statuslicense/services/license"
	"statuslicense/services/notification"
	"statuslicense/services/organization"
	"statuslicense/services/testutil"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	intents []notification.Intent
}

func (f *fakeDispatcher) Dispatch(_ context.Context, intent notification.Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	return nil
}

func (f *fakeDispatcher) byKind(kind notification.Kind) []notification.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notification.Intent
	for _, i := range f.intents {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}

type processorHarness struct {
	db        *gorm.DB
	processor *Processor
	notify    *fakeDispatcher
}

func newProcessorHarness(t *testing.T) *processorHarness {
	t.Helper()

	db := testutil.NewTestDB(t, &organization.Organization{}, &license.License{}, &license.ValidationRecord{}, &billing.BillingEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	notify := &fakeDispatcher{}
	events := billing.New(billing.Params{
		Node:  node,
		Store: repository.ProvideStore[billing.BillingEvent](db),
	})

	cfg := &config.Config{}
	cfg.Grace.Concurrency = 4

	return &processorHarness{
		db:     db,
		notify: notify,
		processor: NewProcessor(ProcessorParams{
			DB:     db,
			Events: events,
			Notify: notify,
			Redis:  goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}),
			Config: cfg,
		}),
	}
}

func proEntitlements() datatypes.JSON {
	return entitlement.ToJSON(entitlement.Merge(entitlement.Grant{
		Limits: map[entitlement.Resource]int64{entitlement.ResourceMonitors: 45},
	}))
}

func seedGraceLicense(t *testing.T, db *gorm.DB, endsAt time.Time) *license.License {
	t.Helper()

	startedAt := endsAt.Add(-5 * 24 * time.Hour)
	l := &license.License{
		ID:              "lic_grace",
		OrganizationID:  "org_grace",
		Plan:            "pro",
		Status:          license.StatusSuspended,
		GraceState:      license.GraceStateActive,
		GraceStartedAt:  &startedAt,
		GraceEndsAt:     &endsAt,
		GraceMilestones: datatypes.JSON([]byte(`[]`)),
		Entitlements:    proEntitlements(),
		LicenseeEmail:   "owner@example.com",
	}
	require.NoError(t, db.Create(l).Error)
	return l
}

func reload(t *testing.T, db *gorm.DB, id string) *license.License {
	t.Helper()
	var l license.License
	require.NoError(t, db.Where("id = ?", id).First(&l).Error)
	return &l
}

func countEvents(t *testing.T, db *gorm.DB, licenseID string, typ billing.EventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&billing.BillingEvent{}).
		Where("license_id = ? AND type = ?", licenseID, typ).
		Count(&n).Error)
	return n
}

func TestProcessorReminderThenDowngrade(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()

	now := time.Now()
	endsAt := now.Add(5 * 24 * time.Hour)
	l := seedGraceLicense(t, h.db, endsAt)

	// day 5 reminder
	action, err := h.processor.ProcessLicense(ctx, l, now, false)
	require.NoError(t, err)
	require.Equal(t, ActionReminderSent, action)

	l = reload(t, h.db, l.ID)
	require.Equal(t, []int{5}, l.MilestonesSent())
	require.EqualValues(t, 1, countEvents(t, h.db, l.ID, billing.EventGracePeriodReminder))

	reminders := h.notify.byKind(notification.KindGracePeriodReminder)
	require.Len(t, reminders, 1)
	require.Equal(t, 5, reminders[0].DaysRemaining)
	require.False(t, reminders[0].IsUrgent)

	// same pass again: nothing new
	action, err = h.processor.ProcessLicense(ctx, l, now, false)
	require.NoError(t, err)
	require.Equal(t, ActionSkipped, action)
	require.EqualValues(t, 1, countEvents(t, h.db, l.ID, billing.EventGracePeriodReminder))

	// past the deadline: downgrade exactly once
	after := endsAt.Add(time.Hour)
	l = reload(t, h.db, l.ID)
	action, err = h.processor.ProcessLicense(ctx, l, after, false)
	require.NoError(t, err)
	require.Equal(t, ActionDowngraded, action)

	l = reload(t, h.db, l.ID)
	require.Equal(t, license.GraceStateExpired, l.GraceState)
	require.Equal(t, "free", l.Plan)

	set := entitlement.FromJSON(l.Entitlements)
	require.Equal(t, int64(5), set.Limit(entitlement.ResourceMonitors))
	require.Equal(t, int64(1), set.Limit(entitlement.ResourceStatusPages))

	require.EqualValues(t, 1, countEvents(t, h.db, l.ID, billing.EventGracePeriodEnded))
	require.EqualValues(t, 1, countEvents(t, h.db, l.ID, billing.EventDowngraded))
	require.Len(t, h.notify.byKind(notification.KindDowngradeNotice), 1)

	// downgraded licenses are terminal for the processor
	action, err = h.processor.ProcessLicense(ctx, l, after.Add(time.Hour), false)
	require.NoError(t, err)
	require.Equal(t, ActionSkipped, action)
	require.EqualValues(t, 1, countEvents(t, h.db, l.ID, billing.EventDowngraded))
}

func TestProcessorConcurrentReminderSendsOnce(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()

	now := time.Now()
	l := seedGraceLicense(t, h.db, now.Add(5*24*time.Hour))

	// two passes race on the same stale snapshot
	stale := *l
	action, err := h.processor.ProcessLicense(ctx, l, now, false)
	require.NoError(t, err)
	require.Equal(t, ActionReminderSent, action)

	_, err = h.processor.ProcessLicense(ctx, &stale, now, false)
	require.NoError(t, err)

	require.EqualValues(t, 1, countEvents(t, h.db, l.ID, billing.EventGracePeriodReminder))
	require.Len(t, h.notify.byKind(notification.KindGracePeriodReminder), 1)
}

func TestProcessorConcurrentDowngradeRunsOnce(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()

	now := time.Now()
	l := seedGraceLicense(t, h.db, now.Add(-time.Hour))

	stale := *l
	action, err := h.processor.ProcessLicense(ctx, l, now, false)
	require.NoError(t, err)
	require.Equal(t, ActionDowngraded, action)

	_, err = h.processor.ProcessLicense(ctx, &stale, now, false)
	require.NoError(t, err)

	require.EqualValues(t, 1, countEvents(t, h.db, l.ID, billing.EventGracePeriodEnded))
	require.EqualValues(t, 1, countEvents(t, h.db, l.ID, billing.EventDowngraded))
}

func TestProcessorMalformedRowIsSkipped(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()

	l := seedGraceLicense(t, h.db, time.Now().Add(24*time.Hour))
	require.NoError(t, h.db.Model(l).Update("grace_ends_at", nil).Error)

	l = reload(t, h.db, l.ID)
	action, err := h.processor.ProcessLicense(ctx, l, time.Now(), false)
	require.NoError(t, err)
	require.Equal(t, ActionSkippedMalformed, action)

	require.Empty(t, h.notify.intents)
}

func TestProcessorDryRunWritesNothing(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()

	now := time.Now()
	l := seedGraceLicense(t, h.db, now.Add(5*24*time.Hour))

	action, err := h.processor.ProcessLicense(ctx, l, now, true)
	require.NoError(t, err)
	require.Equal(t, ActionReminderSent, action)

	l = reload(t, h.db, l.ID)
	require.Empty(t, l.MilestonesSent())
	require.EqualValues(t, 0, countEvents(t, h.db, l.ID, billing.EventGracePeriodReminder))
	require.Empty(t, h.notify.intents)
}

func TestProcessorRunIsolatesLicenses(t *testing.T) {
	h := newProcessorHarness(t)
	ctx := context.Background()

	now := time.Now()

	// one malformed row and one due reminder in the same batch
	bad := seedGraceLicense(t, h.db, now.Add(24*time.Hour))
	require.NoError(t, h.db.Model(bad).Update("grace_ends_at", nil).Error)

	good := seedGraceLicense2(t, h.db, "lic_ok", "org_ok", now.Add(5*24*time.Hour))

	require.NoError(t, h.processor.Run(ctx))

	good = reload(t, h.db, good.ID)
	require.Equal(t, []int{5}, good.MilestonesSent())
}

func seedGraceLicense2(t *testing.T, db *gorm.DB, id, orgID string, endsAt time.Time) *license.License {
	t.Helper()

	startedAt := endsAt.Add(-5 * 24 * time.Hour)
	l := &license.License{
		ID:              id,
		OrganizationID:  orgID,
		Plan:            "pro",
		Status:          license.StatusSuspended,
		GraceState:      license.GraceStateActive,
		GraceStartedAt:  &startedAt,
		GraceEndsAt:     &endsAt,
		GraceMilestones: datatypes.JSON([]byte(`[]`)),
		Entitlements:    proEntitlements(),
	}
	require.NoError(t, db.Create(l).Error)
	return l
}
