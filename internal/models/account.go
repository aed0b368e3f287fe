package models

// AccountDescriptor запись из accounts.yaml.
type AccountDescriptor struct {
	ID            string         `mapstructure:"id" validate:"required"`
	Name          string         `mapstructure:"name"`
	Enabled       bool           `mapstructure:"enabled"`
	AccountNumber string         `mapstructure:"account_number"`
	TokenEnv      string         `mapstructure:"token_env"` // имя env с токеном брокера
	Overrides     map[string]any `mapstructure:"strategy_overrides"`
	Telegram      TelegramTarget `mapstructure:"telegram"`
}

type TelegramTarget struct {
	Enabled  bool   `mapstructure:"enabled"`
	ChatID   int64  `mapstructure:"chat_id"`
	TokenEnv string `mapstructure:"token_env"` // пусто = общий бот
}

// DisplayName имя для логов и сообщений.
func (a AccountDescriptor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// AccountConfig итоговая конфигурация аккаунта: база + overrides. После сборки не меняется.
type AccountConfig struct {
	Account  AccountDescriptor
	Strategy StrategyConfig
}
