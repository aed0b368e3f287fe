package logging

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"breakout_bot/internal/modules/config"
	"breakout_bot/pkg/logger"
)

func NewLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(cfg.Service.Name)
	l, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = l.Sync()
			return nil
		},
	})
	return l, nil
}

func Module() fx.Option {
	return fx.Module("logging",
		fx.Provide(NewLogger),
	)
}
