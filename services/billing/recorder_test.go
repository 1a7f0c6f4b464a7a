package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"statuslicense/pkg/db/pagination"
	"statuslicense/pkg/repository"
	"statuslicense/services/testutil"
)

func newRecorder(t *testing.T) (Recorder, func(event *BillingEvent)) {
	t.Helper()

	db := testutil.NewTestDB(t, &BillingEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	rec := New(Params{
		Node:  node,
		Store: repository.ProvideStore[BillingEvent](db),
	})

	seed := func(event *BillingEvent) {
		require.NoError(t, db.Create(event).Error)
	}
	return rec, seed
}

func TestRecordFillsDefaults(t *testing.T) {
	rec, _ := newRecorder(t)
	ctx := context.Background()

	event := &BillingEvent{
		OrganizationID: "org_1",
		LicenseID:      "lic_1",
		Type:           EventGracePeriodStarted,
	}
	require.NoError(t, rec.Record(ctx, event))

	require.NotEmpty(t, event.ID)
	require.Equal(t, SourceSystem, event.Source)
	require.JSONEq(t, `{}`, string(event.Metadata))
}

func TestListByLicenseNewestFirst(t *testing.T) {
	rec, seed := newRecorder(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seed(&BillingEvent{
			ID:             fmt.Sprintf("ev_%d", i),
			OrganizationID: "org_1",
			LicenseID:      "lic_1",
			Type:           EventGracePeriodReminder,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}
	seed(&BillingEvent{
		ID:             "ev_other",
		OrganizationID: "org_2",
		LicenseID:      "lic_2",
		Type:           EventDowngraded,
		CreatedAt:      base,
	})

	events, pageInfo, err := rec.ListByLicense(ctx, "lic_1", pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 5)
	require.False(t, pageInfo.HasMore)

	for i := 1; i < len(events); i++ {
		require.False(t, events[i].CreatedAt.After(events[i-1].CreatedAt))
	}
}

func TestListByOrganizationPaginates(t *testing.T) {
	rec, seed := newRecorder(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		seed(&BillingEvent{
			ID:             fmt.Sprintf("ev_%d", i),
			OrganizationID: "org_1",
			LicenseID:      "lic_1",
			Type:           EventEntitlementsSynced,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}

	first, pageInfo, err := rec.ListByOrganization(ctx, "org_1", pagination.Pagination{Limit: 5})
	require.NoError(t, err)
	require.Len(t, first, 5)
	require.True(t, pageInfo.HasMore)
	require.NotEmpty(t, pageInfo.NextCursor)

	rest, pageInfo, err := rec.ListByOrganization(ctx, "org_1", pagination.Pagination{
		Limit:  5,
		Cursor: pageInfo.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, pageInfo.HasMore)

	// no overlap between pages
	seen := map[string]bool{}
	for _, e := range first {
		seen[e.ID] = true
	}
	for _, e := range rest {
		require.False(t, seen[e.ID], "event %s returned twice", e.ID)
	}
}
