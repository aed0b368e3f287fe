package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"breakout_bot/internal/modules/config"
	"breakout_bot/internal/runner"
	"breakout_bot/internal/storage/account_state"
	"breakout_bot/pkg/db"
)

// NewStateStore Postgres, если задан DSN, иначе память процесса.
func NewStateStore(lc fx.Lifecycle, ctx context.Context, cfg *config.Config, log *zap.Logger) (runner.StateStore, error) {
	if cfg.DB == "" {
		log.Warn("db_dsn is empty, account state is kept in memory only")
		return runner.NewMemoryStore(), nil
	}

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, err
	}

	manager := db.NewPgTxManager(poolMaster)
	store := account_state.New(manager)
	if err := store.Migrate(ctx); err != nil {
		manager.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			manager.Close()
			return nil
		},
	})
	return store, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewStateStore,
		),
	)
}
