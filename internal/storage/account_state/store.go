package account_state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"breakout_bot/internal/models"
	"breakout_bot/internal/storage/account_state/sql"
	"breakout_bot/pkg/db"
)

// Store хранит состояние аккаунтов в Postgres: дневные счётчики, открытую позицию, итоги.
// Реализует runner.StateStore.
type Store struct {
	db  db.TxManager
	sql *sql.Queries
}

func New(tx db.TxManager) *Store {
	return &Store{
		db:  tx,
		sql: sql.New(),
	}
}

func (s *Store) Migrate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("AccountState.Migrate: %w", err)
		}
	}()
	return s.sql.Migrate(ctx, s.db.Conn())
}

func (s *Store) Load(ctx context.Context, accountID string) (st models.AccountState, ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("AccountState.Load: %w", err)
		}
	}()

	row, err := s.sql.GetByAccount(ctx, s.db.Conn(), accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AccountState{}, false, nil
	}
	if err != nil {
		return models.AccountState{}, false, err
	}

	if err = sonic.Unmarshal(row.State, &st); err != nil {
		return models.AccountState{}, false, err
	}
	st.AccountID = row.AccountID
	return st, true, nil
}

func (s *Store) Save(ctx context.Context, st models.AccountState) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("AccountState.Save: %w", err)
		}
	}()

	var data []byte
	data, err = sonic.Marshal(st)
	if err != nil {
		return err
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		return s.sql.Upsert(ctxTx, tx, &sql.UpsertParams{
			AccountID: st.AccountID,
			DayID:     st.Daily.DayID,
			State:     data,
			UpdatedAt: updated,
		})
	})
}
