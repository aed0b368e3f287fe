package account_state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout_bot/internal/models"
	"breakout_bot/internal/runner"
	"breakout_bot/pkg/db"
)

var _ runner.StateStore = (*Store)(nil)

type row struct {
	accountID string
	dayID     string
	state     []byte
	updatedAt time.Time
}

// fakeDB таблица account_state в памяти, понимает только наши запросы.
type fakeDB struct {
	mu       sync.Mutex
	rows     map[string]row
	execErr  error
	execs    []string
	txCount  int
	rollback int
}

func newFakeDB() *fakeDB { return &fakeDB{rows: map[string]row{}} }

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	if strings.Contains(sql, "INSERT INTO account_state") {
		f.rows[args[0].(string)] = row{
			accountID: args[0].(string),
			dayID:     args[1].(string),
			state:     args[2].([]byte),
			updatedAt: args[3].(time.Time),
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type scanFunc func(dest ...any) error

func (s scanFunc) Scan(dest ...any) error { return s(dest...) }

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...interface{}) pgx.Row {
	f.mu.Lock()
	r, ok := f.rows[args[0].(string)]
	f.mu.Unlock()
	return scanFunc(func(dest ...any) error {
		if !ok {
			return pgx.ErrNoRows
		}
		*dest[0].(*string) = r.accountID
		*dest[1].(*string) = r.dayID
		*dest[2].(*[]byte) = r.state
		*dest[3].(*time.Time) = r.updatedAt
		return nil
	})
}

func (f *fakeDB) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx db.Transaction) error) error {
	f.mu.Lock()
	f.txCount++
	f.mu.Unlock()
	if err := fn(ctx, f); err != nil {
		f.mu.Lock()
		f.rollback++
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeDB) Conn() db.Transaction { return f }

func TestStore_RoundTrip(t *testing.T) {
	fdb := newFakeDB()
	s := New(fdb)
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	st := models.AccountState{
		AccountID: "acc-1",
		Daily: models.DailyState{
			DayID: "2025-06-10", TradeCount: 2, RealizedPnL: -84, CumulativeLoss: 84, Losses: 1, Wins: 1,
		},
		Position: &models.Position{
			TradeID: 3, Symbol: "SPY250610C00505000", Quantity: 4, EntryPrice: 1.0, EntryCost: 400,
			StopLossPrice: 0.88, TargetPrice: 2.35, OpenedAt: at,
		},
		NextTradeID: 3,
		Totals:      models.Totals{Signals: 5, Trades: 2, Wins: 1, Losses: 1, TotalPnL: 336},
		UpdatedAt:   at,
	}
	require.NoError(t, s.Save(ctx, st))

	got, ok, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.Daily, got.Daily)
	require.NotNil(t, got.Position)
	assert.Equal(t, "SPY250610C00505000", got.Position.Symbol)
	assert.True(t, got.Position.OpenedAt.Equal(at))
	assert.Equal(t, st.Totals, got.Totals)
	assert.Equal(t, int64(3), got.NextTradeID)

	assert.Equal(t, "2025-06-10", fdb.rows["acc-1"].dayID)
	assert.Equal(t, 1, fdb.txCount)
}

func TestStore_SaveOverwrites(t *testing.T) {
	fdb := newFakeDB()
	s := New(fdb)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, models.AccountState{AccountID: "a", Daily: models.DailyState{DayID: "2025-06-10", TradeCount: 5}}))
	require.NoError(t, s.Save(ctx, models.AccountState{AccountID: "a", Daily: models.DailyState{DayID: "2025-06-11"}}))

	got, ok, err := s.Load(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-06-11", got.Daily.DayID)
	assert.Zero(t, got.Daily.TradeCount)
	assert.False(t, fdb.rows["a"].updatedAt.IsZero())
}

func TestStore_ErrorsAreWrapped(t *testing.T) {
	fdb := newFakeDB()
	boom := errors.New("connection reset")
	fdb.execErr = boom
	s := New(fdb)

	err := s.Save(context.Background(), models.AccountState{AccountID: "a"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "AccountState.Save")
	assert.Equal(t, 1, fdb.rollback)

	err = s.Migrate(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "AccountState.Migrate")
}

func TestStore_CorruptStateIsAnError(t *testing.T) {
	fdb := newFakeDB()
	fdb.rows["a"] = row{accountID: "a", dayID: "x", state: []byte("{not json")}
	_, ok, err := New(fdb).Load(context.Background(), "a")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestStore_MigrateRunsSchema(t *testing.T) {
	fdb := newFakeDB()
	require.NoError(t, New(fdb).Migrate(context.Background()))
	require.Len(t, fdb.execs, 1)
	assert.Contains(t, fdb.execs[0], "CREATE TABLE IF NOT EXISTS account_state")
}
