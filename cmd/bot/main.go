package main

import (
	"context"
	"time"

	"go.uber.org/fx"

	"breakout_bot/internal/modules/config"
	"breakout_bot/internal/modules/health"
	"breakout_bot/internal/modules/logging"
	"breakout_bot/internal/modules/metrics"
	orchestrator "breakout_bot/internal/modules/orchestrator"
	"breakout_bot/internal/modules/postgres"
	telegram "breakout_bot/internal/modules/telegram_bot"
	"breakout_bot/internal/modules/tracing"
	"breakout_bot/internal/modules/tradier"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		// stagger между аккаунтами может занять больше дефолтных 15s
		fx.StartTimeout(5*time.Minute),
		fx.StopTimeout(time.Minute),
		config.Module(),
		logging.Module(),
		tracing.Module(),
		metrics.Module(),
		postgres.Module(),
		tradier.Module(),
		telegram.Module(),
		health.Module(),
		orchestrator.Module(),
	)
	app.Run()
}
