package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"breakout_bot/internal/modules/config"
	"breakout_bot/pkg/tracing"
)

// NewTracer Jaeger при tracing.enabled, иначе noop. Спаны берут глобальный трейсер.
func NewTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	if !cfg.Tracing.Enabled {
		return opentracing.NoopTracer{}, nil
	}

	tracing.SetServiceName(cfg.Service.Name)
	tracer, closer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Tracing.Host,
		Port: cfg.Tracing.Port,
	})
	if err != nil {
		return nil, err
	}
	log.Info("jaeger tracer started", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closer.Close()
		},
	})
	return tracer, nil
}

func Module() fx.Option {
	return fx.Module("tracing",
		fx.Provide(NewTracer),
		fx.Invoke(func(opentracing.Tracer) {}),
	)
}
