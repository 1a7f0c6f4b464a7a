package license

import (
	"go.uber.org/fx"

	"statuslicense/pkg/config"
	"statuslicense/pkg/repository"
	"statuslicense/pkg/vendorapi"
)

func provideVendorClient(cfg *config.Config) *vendorapi.Client {
	return vendorapi.New(vendorapi.Config{
		APIURL:    cfg.Vendor.APIURL,
		AccountID: cfg.Vendor.AccountID,
		Token:     cfg.Vendor.Token,
		Timeout:   cfg.Vendor.Timeout,
	})
}

func provideOfflineVerifier(cfg *config.Config) *vendorapi.OfflineVerifier {
	return vendorapi.NewOfflineVerifier(cfg.Vendor.PublicKey)
}

func provideWebhookVerifier(cfg *config.Config) *vendorapi.WebhookVerifier {
	return vendorapi.NewWebhookVerifier(cfg.Vendor.WebhookKey)
}

var Module = fx.Module("license.module",
	fx.Provide(
		provideVendorClient,
		provideOfflineVerifier,
		provideWebhookVerifier,
		repository.ProvideStore[License],
		repository.ProvideStore[ValidationRecord],
		New,
	),
)

// WorkerModule adds the validation sweep handlers for the worker
// process.
var WorkerModule = fx.Module("license.worker",
	fx.Provide(
		NewTaskHandler,
	),
)
