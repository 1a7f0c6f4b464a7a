package organization

import (
	"go.uber.org/fx"

	"statuslicense/pkg/repository"
)

var Module = fx.Module("organization.module",
	fx.Provide(
		repository.ProvideStore[Organization],
		New,
	),
)
