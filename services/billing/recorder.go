package billing

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"statuslicense/pkg/db/option"
	"statuslicense/pkg/db/pagination"
	"statuslicense/pkg/repository"
)

// Recorder appends events to the billing ledger and reads them back
// newest first.
type Recorder interface {
	Record(ctx context.Context, event *BillingEvent) error
	RecordTx(ctx context.Context, tx *gorm.DB, event *BillingEvent) error
	ListByLicense(ctx context.Context, licenseID string, p pagination.Pagination) ([]*BillingEvent, *pagination.PageInfo, error)
	ListByOrganization(ctx context.Context, orgID string, p pagination.Pagination) ([]*BillingEvent, *pagination.PageInfo, error)
}

type recorder struct {
	node  *snowflake.Node
	store repository.Repository[BillingEvent]
}

type Params struct {
	fx.In

	Node  *snowflake.Node
	Store repository.Repository[BillingEvent]
}

func New(p Params) Recorder {
	return &recorder{
		node:  p.Node,
		store: p.Store,
	}
}

func (r *recorder) Record(ctx context.Context, event *BillingEvent) error {
	return r.record(ctx, r.store, event)
}

// RecordTx writes the event inside an existing transaction so a state
// transition and its ledger row commit together.
func (r *recorder) RecordTx(ctx context.Context, tx *gorm.DB, event *BillingEvent) error {
	return r.record(ctx, r.store.WithTrx(tx), event)
}

func (r *recorder) record(ctx context.Context, store repository.Repository[BillingEvent], event *BillingEvent) error {
	if event.ID == "" {
		event.ID = r.node.Generate().String()
	}
	if event.Source == "" {
		event.Source = SourceSystem
	}
	if event.Metadata == nil {
		event.Metadata = datatypes.JSON([]byte("{}"))
	}

	if err := store.Create(ctx, event); err != nil {
		return err
	}

	zap.L().Info("billing event recorded",
		zap.String("event_id", event.ID),
		zap.String("organization_id", event.OrganizationID),
		zap.String("license_id", event.LicenseID),
		zap.String("type", string(event.Type)),
	)
	return nil
}

func (r *recorder) ListByLicense(ctx context.Context, licenseID string, p pagination.Pagination) ([]*BillingEvent, *pagination.PageInfo, error) {
	return r.list(ctx, &BillingEvent{LicenseID: licenseID}, p)
}

func (r *recorder) ListByOrganization(ctx context.Context, orgID string, p pagination.Pagination) ([]*BillingEvent, *pagination.PageInfo, error) {
	return r.list(ctx, &BillingEvent{OrganizationID: orgID}, p)
}

func (r *recorder) list(ctx context.Context, query *BillingEvent, p pagination.Pagination) ([]*BillingEvent, *pagination.PageInfo, error) {
	events, err := r.store.Find(ctx, query, option.ApplyPagination(p))
	if err != nil {
		return nil, nil, err
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	pageInfo := pagination.BuildCursorPageInfo(events, limit, func(e *BillingEvent) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        e.ID,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02 15:04:05.999999999"),
		})
		return cursor
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, pageInfo, nil
}

// Meta marshals event metadata, returning an empty object when the
// value cannot be encoded.
func Meta(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}
