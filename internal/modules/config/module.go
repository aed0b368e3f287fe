package config

import (
	"go.uber.org/fx"

	"breakout_bot/internal/models"
)

// Accounts список аккаунтов как отдельный тип для fx.
type Accounts []models.AccountDescriptor

func provideAccounts(cfg *Config) (Accounts, error) {
	list, err := LoadAccounts(cfg.AccountsPath())
	if err != nil {
		return nil, err
	}
	return Accounts(list), nil
}

func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			provideAccounts,
		),
	)
}
