package billing

import (
	"go.uber.org/fx"

	"statuslicense/pkg/repository"
)

var Module = fx.Module("billing.module",
	fx.Provide(
		repository.ProvideStore[BillingEvent],
		New,
	),
)
