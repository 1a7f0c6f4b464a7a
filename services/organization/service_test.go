package organization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"statuslicense/pkg/repository"
	"statuslicense/services/testutil"
)

func newService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Organization{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Node:  node,
		Store: repository.ProvideStore[Organization](db),
	})
	return svc, db
}

func TestCreateGeneratesSlug(t *testing.T) {
	svc, _ := newService(t)

	org, err := svc.Create(context.Background(), "ACME Status Page")
	require.NoError(t, err)
	require.NotEmpty(t, org.ID)
	require.Equal(t, "ACME Status Page", org.Name)
	require.Equal(t, "acme-status-page", org.Slug)
}

func TestCreateDisambiguatesSlugCollision(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "ACME")
	require.NoError(t, err)

	second, err := svc.Create(ctx, "ACME")
	require.NoError(t, err)
	require.NotEqual(t, first.Slug, second.Slug)
	require.Contains(t, second.Slug, "acme-")
}

func TestCreateRejectsEmptyName(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Create(context.Background(), "   ")
	require.Error(t, err)
}

func TestGetBySlug(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "ACME")
	require.NoError(t, err)

	got, err := svc.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = svc.GetBySlug(ctx, "nope")
	require.Error(t, err)
}

func TestDeleteIsSoft(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	org, err := svc.Create(ctx, "ACME")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, org.ID))

	_, err = svc.Get(ctx, org.ID)
	require.Error(t, err)

	// still present for auditing
	var n int64
	require.NoError(t, db.Unscoped().Model(&Organization{}).Count(&n).Error)
	require.EqualValues(t, 1, n)
}
