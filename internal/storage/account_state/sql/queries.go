package sql

import (
	"context"
	_ "embed"
	"time"

	"breakout_bot/pkg/db"
)

//go:embed schema.sql
var Schema string

const upsert = `
INSERT INTO account_state (account_id, day_id, state, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (account_id) DO UPDATE
SET day_id = EXCLUDED.day_id, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
`

const getByAccount = `
SELECT account_id, day_id, state, updated_at
FROM account_state
WHERE account_id = $1
`

type Queries struct{}

func New() *Queries {
	return &Queries{}
}

type UpsertParams struct {
	AccountID string
	DayID     string
	State     []byte
	UpdatedAt time.Time
}

type AccountState struct {
	AccountID string
	DayID     string
	State     []byte
	UpdatedAt time.Time
}

func (q *Queries) Migrate(ctx context.Context, tx db.Transaction) error {
	_, err := tx.Exec(ctx, Schema)
	return err
}

func (q *Queries) Upsert(ctx context.Context, tx db.Transaction, arg *UpsertParams) error {
	_, err := tx.Exec(ctx, upsert, arg.AccountID, arg.DayID, arg.State, arg.UpdatedAt)
	return err
}

func (q *Queries) GetByAccount(ctx context.Context, tx db.Transaction, accountID string) (AccountState, error) {
	row := tx.QueryRow(ctx, getByAccount, accountID)
	var i AccountState
	err := row.Scan(&i.AccountID, &i.DayID, &i.State, &i.UpdatedAt)
	return i, err
}
