package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"breakout_bot/internal/models"
)

type accountsFile struct {
	Accounts []models.AccountDescriptor `mapstructure:"accounts"`
}

// LoadAccounts читает упорядоченный список аккаунтов. Порядок файла сохраняется,
// overrides остаются свободной картой до слияния с базовой стратегией.
func LoadAccounts(path string) ([]models.AccountDescriptor, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read accounts file %s", path)
	}

	var f accountsFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, errors.Wrap(err, "decode accounts")
	}

	seen := make(map[string]struct{}, len(f.Accounts))
	for i, a := range f.Accounts {
		if err := validate.Struct(a); err != nil {
			return nil, errors.Wrapf(err, "account #%d", i+1)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, errors.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return f.Accounts, nil
}

// AccountToken токен брокера аккаунта из env, иначе общий.
func AccountToken(a models.AccountDescriptor, fallback string) string {
	if a.TokenEnv != "" {
		if v := os.Getenv(a.TokenEnv); v != "" {
			return v
		}
	}
	return fallback
}

// ChatID чат уведомлений аккаунта, иначе общий.
func ChatID(a models.AccountDescriptor, fallback int64) int64 {
	if a.Telegram.ChatID != 0 {
		return a.Telegram.ChatID
	}
	return fallback
}
