package telegram

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"breakout_bot/internal/modules/config"
	"breakout_bot/internal/modules/telegram_bot/service"
	"breakout_bot/internal/notify"
)

// Bots все поднятые боты. Shared nil, если общий токен не задан.
type Bots struct {
	Shared *service.Telegram
	all    []*service.Telegram
}

// NewBots собирает ботов и маршруты уведомлений по аккаунтам.
// Аккаунт со своим token_env получает отдельного бота, остальные идут через общий.
func NewBots(cfg *config.Config, accounts config.Accounts, log *zap.Logger) (*Bots, *notify.Router, error) {
	bots := &Bots{}
	byToken := map[string]*service.Telegram{}

	if cfg.Telegram.Token != "" {
		tg, err := service.NewTelegram(cfg.Telegram.Token, "shared", log)
		if err != nil {
			return nil, nil, err
		}
		bots.Shared = tg
		bots.all = append(bots.all, tg)
		byToken[cfg.Telegram.Token] = tg
	}

	var fallback notify.Sink
	if bots.Shared != nil && cfg.Telegram.DefaultChatID != 0 {
		fallback = bots.Shared.Chat(cfg.Telegram.DefaultChatID)
	}
	router := notify.NewRouter(fallback)

	for _, a := range accounts {
		if !a.Enabled || !a.Telegram.Enabled {
			continue
		}
		bot := bots.Shared
		if a.Telegram.TokenEnv != "" {
			if tok := os.Getenv(a.Telegram.TokenEnv); tok != "" {
				own, ok := byToken[tok]
				if !ok {
					var err error
					own, err = service.NewTelegram(tok, a.ID, log)
					if err != nil {
						return nil, nil, err
					}
					byToken[tok] = own
					bots.all = append(bots.all, own)
				}
				bot = own
			}
		}
		chat := config.ChatID(a, cfg.Telegram.DefaultChatID)
		if bot == nil || chat == 0 {
			log.Warn("telegram target incomplete, account notifications go to log only",
				zap.String("account", a.ID), zap.Bool("bot", bot != nil), zap.Int64("chat", chat))
			continue
		}
		router.Route(a.ID, bot.Chat(chat))
	}
	return bots, router, nil
}

func (b *Bots) Start(ctx context.Context) {
	for _, tg := range b.all {
		tg.Start(ctx)
	}
}

func (b *Bots) Stop() {
	for _, tg := range b.all {
		tg.Stop()
	}
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			NewBots,
		),
		// Запуск основного цикла через Lifecycle
		fx.Invoke(
			func(lc fx.Lifecycle, b *Bots) {
				var cancel context.CancelFunc
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						var ctx context.Context
						ctx, cancel = context.WithCancel(context.Background())
						b.Start(ctx)
						return nil
					},
					OnStop: func(context.Context) error {
						if cancel != nil {
							cancel()
						}
						b.Stop()
						return nil
					},
				})
			},
		),
	)
}
