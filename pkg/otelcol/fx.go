package otelcol

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"statuslicense/pkg/config"
	"statuslicense/pkg/otelcol/exporters"
)

// Module installs the global tracer provider backed by the configured
// otlp collector. Without an OTEL address the process keeps the no-op
// provider.
var Module = fx.Module("otelcol",
	fx.Invoke(setupTracing),
)

func setupTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		return nil
	}

	provide := exporters.ProvideGrpc
	if cfg.Otel.Protocol == "http" {
		provide = exporters.ProvideHttp
	}
	exporter, err := provide(cfg)
	if err != nil {
		return err
	}

	tp := ProvideTrace(exporter)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				zap.L().Warn("tracer provider shutdown failed", zap.Error(err))
			}
			return nil
		},
	})

	zap.L().Info("tracing enabled", zap.String("otel_addr", cfg.Otel.Addr))
	return nil
}
