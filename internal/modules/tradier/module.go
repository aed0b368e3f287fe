package tradier

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"breakout_bot/internal/calendar"
	"breakout_bot/internal/engine"
	"breakout_bot/internal/feed"
	"breakout_bot/internal/models"
	"breakout_bot/internal/modules/config"
	"breakout_bot/internal/modules/tradier/service"
)

// ExecutorFactory исполнитель ордеров на счёт аккаунта.
type ExecutorFactory func(desc models.AccountDescriptor) engine.OrderExecutor

func NewClient(cfg *config.Config, cal *calendar.Calendar, log *zap.Logger) *service.Client {
	log.Info("tradier client",
		zap.String("mode", cfg.Tradier.Mode), zap.String("url", cfg.Tradier.BaseURL()),
		zap.Bool("token", cfg.Tradier.Token != ""))
	return service.NewClient(cfg.Tradier.BaseURL(), cfg.Tradier.Token, cfg.Tradier.Timeout, cal.Location())
}

func NewExecutorFactory(cfg *config.Config, c *service.Client) ExecutorFactory {
	return func(desc models.AccountDescriptor) engine.OrderExecutor {
		number := desc.AccountNumber
		if number == "" {
			number = cfg.Tradier.AccountNumber
		}
		token := config.AccountToken(desc, cfg.Tradier.Token)
		return service.NewExecutor(c.WithToken(token), number, cfg.Strategy.Underlying)
	}
}

func Module() fx.Option {
	return fx.Module("tradier",
		fx.Provide(
			NewClient,
			NewExecutorFactory,
			func(cfg *config.Config, c *service.Client) feed.QuoteSource {
				return service.NewSnapshotter(c, cfg.Strategy.Underlying, cfg.Tradier.VIXSymbol)
			},
			func(c *service.Client) engine.OptionChainSource { return c },
		),
	)
}
