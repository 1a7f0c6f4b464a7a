package organization

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	goslug "github.com/gosimple/slug"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"statuslicense/pkg/db/option"
	"statuslicense/pkg/errutil"
	"statuslicense/pkg/repository"
)

type Service interface {
	Create(ctx context.Context, name string) (*Organization, error)
	Get(ctx context.Context, id string) (*Organization, error)
	GetBySlug(ctx context.Context, s string) (*Organization, error)
	Delete(ctx context.Context, id string) error
}

type service struct {
	db    *gorm.DB
	node  *snowflake.Node
	store repository.Repository[Organization]
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Node  *snowflake.Node
	Store repository.Repository[Organization]
}

func New(p Params) Service {
	return &service{
		db:    p.DB,
		node:  p.Node,
		store: p.Store,
	}
}

func (s *service) Create(ctx context.Context, name string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errutil.BadRequest("organization name is required")
	}

	org := &Organization{
		ID:   s.node.Generate().String(),
		Name: name,
		Slug: goslug.Make(name),
	}

	existing, err := s.store.FindOne(ctx, &Organization{Slug: org.Slug})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		org.Slug = fmt.Sprintf("%s-%s", org.Slug, strings.ToLower(org.ID[len(org.ID)-6:]))
	}

	if err := s.store.Create(ctx, org); err != nil {
		return nil, err
	}

	return org, nil
}

func (s *service) Get(ctx context.Context, id string) (*Organization, error) {
	org, err := s.store.FindOne(ctx, &Organization{ID: id})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, errutil.NotFound("organization not found")
	}
	return org, nil
}

func (s *service) GetBySlug(ctx context.Context, sl string) (*Organization, error) {
	org, err := s.store.FindOne(ctx, &Organization{Slug: sl}, option.WithLimit(1))
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, errutil.NotFound("organization not found")
	}
	return org, nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	org, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(org).Error
}
