package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"breakout_bot/internal/calendar"
	"breakout_bot/internal/feed"
	"breakout_bot/internal/models"
	"breakout_bot/internal/runner"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *journal) index(entry string) int {
	for i, e := range j.list() {
		if e == entry {
			return i
		}
	}
	return -1
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.list() {
		if e == entry {
			n++
		}
	}
	return n
}

type fakeFeed struct {
	j        *journal
	mu       sync.Mutex
	status   models.FeedStatus
	onStatus feed.StatusHandler
}

func (f *fakeFeed) Subscribe(id string, _ int) (<-chan models.MarketSnapshot, error) {
	f.j.add("subscribe %s", id)
	return make(chan models.MarketSnapshot), nil
}

func (f *fakeFeed) Unsubscribe(id string) { f.j.add("unsubscribe %s", id) }

func (f *fakeFeed) OnStatus(h feed.StatusHandler) {
	f.mu.Lock()
	f.onStatus = h
	f.mu.Unlock()
}

func (f *fakeFeed) Start(context.Context) {
	f.j.add("feed start")
	f.mu.Lock()
	f.status = models.FeedRunning
	f.mu.Unlock()
}

func (f *fakeFeed) Stop() {
	f.j.add("feed stop")
	f.mu.Lock()
	f.status = models.FeedStopped
	f.mu.Unlock()
}

func (f *fakeFeed) Status() models.FeedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeProc struct {
	id    string
	j     *journal
	pub   runner.StatusPublisher
	stuck bool // не выходит по Stop

	mu       sync.Mutex
	st       models.AccountStatus
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeProc(id string, j *journal, pub runner.StatusPublisher) *fakeProc {
	return &fakeProc{
		id:   id,
		j:    j,
		pub:  pub,
		st:   models.AccountStatus{AccountID: id, Name: id, Health: models.HealthRecord{Status: models.StatusRunning}},
		done: make(chan struct{}),
	}
}

func (p *fakeProc) ID() string { return p.id }

func (p *fakeProc) Start(context.Context, <-chan models.MarketSnapshot) error {
	p.j.add("start %s", p.id)
	p.publish()
	return nil
}

func (p *fakeProc) Restart() error {
	p.j.add("restart %s", p.id)
	return nil
}

func (p *fakeProc) Halt(reason string) {
	p.j.add("halt %s", p.id)
	p.update(func(st *models.AccountStatus) {
		st.Daily.Halt(reason)
		st.Exposure = models.Exposure{}
	})
}

func (p *fakeProc) Stop() {
	p.j.add("stop %s", p.id)
	if !p.stuck {
		p.doneOnce.Do(func() { close(p.done) })
	}
}

func (p *fakeProc) Kill() {
	p.j.add("kill %s", p.id)
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) MarkFailed(reason string) {
	p.j.add("failed %s", p.id)
	p.update(func(st *models.AccountStatus) {
		st.Health.Status = models.StatusFailed
		st.Health.LastError = reason
	})
}

func (p *fakeProc) Status() models.AccountStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st
}

func (p *fakeProc) Summary() string { return "summary " + p.id }

func (p *fakeProc) update(fn func(st *models.AccountStatus)) {
	p.mu.Lock()
	fn(&p.st)
	p.mu.Unlock()
	p.publish()
}

func (p *fakeProc) publish() {
	if p.pub != nil {
		p.pub.UpdateStatus(p.Status())
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *eventLog) Notify(ev models.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []models.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.EventKind, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	o      *Orchestrator
	j      *journal
	feed   *fakeFeed
	events *eventLog
	procs  map[string]*fakeProc
	cal    *calendar.Calendar
}

func testConfig() Config {
	return Config{
		HealthInterval:     time.Hour,
		HeartbeatThreshold: 90 * time.Second,
		MaxRestartsPerDay:  3,
		ShutdownGrace:      100 * time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config, accounts ...models.AccountDescriptor) *harness {
	t.Helper()
	cal, err := calendar.New(calendar.Config{Timezone: "America/New_York", Open: "09:30", Close: "16:00"})
	require.NoError(t, err)

	h := &harness{
		j:      &journal{},
		events: &eventLog{},
		procs:  make(map[string]*fakeProc),
		cal:    cal,
	}
	h.feed = &fakeFeed{j: h.j, status: models.FeedStarting}

	var mu sync.Mutex
	factory := func(_ context.Context, desc models.AccountDescriptor, status runner.StatusPublisher) (Processor, error) {
		if desc.ID == "broken" {
			return nil, errors.New("bad overrides")
		}
		p := newFakeProc(desc.ID, h.j, status)
		mu.Lock()
		h.procs[desc.ID] = p
		mu.Unlock()
		return p, nil
	}
	h.o = New(cfg, accounts, h.feed, factory, cal, h.events, nil, zaptest.NewLogger(t))
	t.Cleanup(func() {
		_ = h.o.Shutdown(context.Background(), "test cleanup")
	})
	return h
}

func (h *harness) at(day, hour, minute int) time.Time {
	return time.Date(2025, 6, day, hour, minute, 0, 0, h.cal.Location())
}

func accounts(ids ...string) []models.AccountDescriptor {
	out := make([]models.AccountDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.AccountDescriptor{ID: id, Enabled: true})
	}
	return out
}

func TestStartSkipsDisabledAndStartsFeedLast(t *testing.T) {
	accs := accounts("a", "broken", "c")
	accs = append(accs, models.AccountDescriptor{ID: "off", Enabled: false})
	h := newHarness(t, testConfig(), accs...)

	require.NoError(t, h.o.Start(context.Background()))

	assert.Equal(t, []string{
		"subscribe a", "start a",
		"subscribe c", "start c",
		"feed start",
	}, h.j.list())

	rows := h.o.Accounts()
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].AccountID)
	assert.Equal(t, "broken", rows[1].AccountID)
	assert.Equal(t, models.StatusFailed, rows[1].Health.Status)
	assert.Contains(t, rows[1].Health.LastError, "bad overrides")
	assert.Contains(t, h.events.kinds(), models.EventFailed)
	assert.Equal(t, models.FeedRunning, h.o.FeedStatus())
}

func TestStartWithoutAccounts(t *testing.T) {
	h := newHarness(t, testConfig(), models.AccountDescriptor{ID: "off"})
	assert.ErrorIs(t, h.o.Start(context.Background()), ErrNoAccounts)

	h = newHarness(t, testConfig(), accounts("broken")...)
	assert.ErrorIs(t, h.o.Start(context.Background()), ErrNoAccounts)
}

func TestStaleHeartbeatRestartsOnlyDuringTradingHours(t *testing.T) {
	h := newHarness(t, testConfig(), accounts("a")...)
	require.NoError(t, h.o.Start(context.Background()))
	p := h.procs["a"]
	ctx := context.Background()

	night := h.at(10, 2, 0)
	p.update(func(st *models.AccountStatus) { st.Health.LastHeartbeat = night.Add(-10 * time.Minute) })
	h.o.tick(ctx, night)
	assert.Equal(t, 0, h.j.count("restart a"), "no restart at 02:00 market time")

	morning := h.at(10, 10, 0)
	p.update(func(st *models.AccountStatus) { st.Health.LastHeartbeat = morning.Add(-10 * time.Minute) })
	h.o.tick(ctx, morning)
	assert.Equal(t, 1, h.j.count("restart a"), "restart at 10:00 market time")

	p.update(func(st *models.AccountStatus) { st.Health.LastHeartbeat = morning })
	h.o.tick(ctx, morning.Add(time.Minute))
	assert.Equal(t, 1, h.j.count("restart a"), "fresh heartbeat")

	weekend := h.at(14, 11, 0)
	p.update(func(st *models.AccountStatus) { st.Health.LastHeartbeat = weekend.Add(-time.Hour) })
	h.o.tick(ctx, weekend)
	assert.Equal(t, 1, h.j.count("restart a"), "no restart on saturday")
}

func TestRestartCapMarksAccountFailed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRestartsPerDay = 2
	h := newHarness(t, cfg, accounts("a", "b")...)
	require.NoError(t, h.o.Start(context.Background()))
	ctx := context.Background()

	stale := h.at(10, 9, 0)
	h.procs["a"].update(func(st *models.AccountStatus) { st.Health.LastHeartbeat = stale })
	h.procs["b"].update(func(st *models.AccountStatus) { st.Health.LastHeartbeat = h.at(10, 12, 0) })

	for i := 0; i < 4; i++ {
		h.o.tick(ctx, h.at(10, 10, i))
	}

	assert.Equal(t, 2, h.j.count("restart a"))
	assert.Equal(t, 1, h.j.count("unsubscribe a"))
	assert.Equal(t, 1, h.j.count("stop a"))
	assert.Equal(t, 1, h.j.count("failed a"))
	assert.Equal(t, 0, h.j.count("restart b"), "healthy account untouched")

	row, ok := h.o.table.Get("a")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, row.Health.Status)
	assert.Equal(t, 2, row.Health.RestartsToday)
	assert.Contains(t, h.events.kinds(), models.EventFailed)
}

func TestGlobalLossTriggersShutdownOfAllAccounts(t *testing.T) {
	cfg := testConfig()
	cfg.Global.MaxTotalLoss = 2000
	h := newHarness(t, cfg, accounts("a", "b")...)
	require.NoError(t, h.o.Start(context.Background()))

	now := h.at(10, 11, 0)
	h.procs["a"].update(func(st *models.AccountStatus) {
		st.Health.LastHeartbeat = now
		st.Daily.RealizedPnL = -1200
	})
	h.procs["b"].update(func(st *models.AccountStatus) {
		st.Health.LastHeartbeat = now
		st.Daily.RealizedPnL = -500
		st.Exposure = models.Exposure{OpenPositions: 1, UnrealizedPnL: -400}
	})

	h.o.tick(context.Background(), now)

	select {
	case <-h.o.Emergency():
	case <-time.After(time.Second):
		t.Fatal("emergency not signalled")
	}
	assert.Equal(t, 1, h.j.count("halt a"))
	assert.Equal(t, 1, h.j.count("halt b"))
	assert.True(t, h.o.Stopping())
	assert.Contains(t, h.events.kinds(), models.EventGlobalEmergency)

	require.Eventually(t, func() bool {
		return h.j.index("stop a") >= 0 && h.j.index("stop b") >= 0
	}, time.Second, 5*time.Millisecond)
	assert.Less(t, h.j.index("halt a"), h.j.index("feed stop"))
	assert.Less(t, h.j.index("feed stop"), h.j.index("stop a"))

	// рестарты после стопа запрещены
	h.procs["a"].update(func(st *models.AccountStatus) { st.Health.LastHeartbeat = now.Add(-time.Hour) })
	h.o.tick(context.Background(), now.Add(time.Minute))
	assert.Equal(t, 0, h.j.count("restart a"))
}

func TestGlobalLossBelowLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Global.MaxTotalLoss = 2000
	h := newHarness(t, cfg, accounts("a", "b")...)
	require.NoError(t, h.o.Start(context.Background()))

	now := h.at(10, 11, 0)
	for _, id := range []string{"a", "b"} {
		h.procs[id].update(func(st *models.AccountStatus) {
			st.Health.LastHeartbeat = now
			st.Daily.RealizedPnL = -1000
		})
	}
	h.o.tick(context.Background(), now)

	select {
	case <-h.o.Emergency():
		t.Fatal("2000 is not above 2000")
	default:
	}
	assert.Equal(t, 0, h.j.count("halt a"))
}

func TestOpenPositionLimitTriggersEmergency(t *testing.T) {
	cfg := testConfig()
	cfg.Global.MaxOpenPositions = 1
	h := newHarness(t, cfg, accounts("a", "b")...)
	require.NoError(t, h.o.Start(context.Background()))

	now := h.at(10, 11, 0)
	for _, id := range []string{"a", "b"} {
		h.procs[id].update(func(st *models.AccountStatus) {
			st.Health.LastHeartbeat = now
			st.Exposure.OpenPositions = 1
		})
	}
	h.o.tick(context.Background(), now)

	select {
	case <-h.o.Emergency():
	case <-time.After(time.Second):
		t.Fatal("emergency not signalled")
	}
}

func TestShutdownOrderAndKillAfterGrace(t *testing.T) {
	h := newHarness(t, testConfig(), accounts("a", "b")...)
	require.NoError(t, h.o.Start(context.Background()))
	h.procs["b"].stuck = true

	err := h.o.Shutdown(context.Background(), "operator signal")
	require.Error(t, err, "b had to be killed")

	feedStop := h.j.index("feed stop")
	require.GreaterOrEqual(t, feedStop, 0)
	assert.Less(t, feedStop, h.j.index("stop a"))
	assert.Less(t, feedStop, h.j.index("stop b"))
	assert.Less(t, h.j.index("stop b"), h.j.index("kill b"))
	assert.Equal(t, -1, h.j.index("kill a"))

	shutdowns := 0
	for _, k := range h.events.kinds() {
		if k == models.EventShutdown {
			shutdowns++
		}
	}
	assert.Equal(t, 2, shutdowns)

	// повторный вызов не запускает остановку заново
	require.Error(t, h.o.Shutdown(context.Background(), "again"))
	assert.Equal(t, 1, h.j.count("feed stop"))
}

func TestFeedStatusNotifications(t *testing.T) {
	h := newHarness(t, testConfig(), accounts("a")...)
	require.NoError(t, h.o.Start(context.Background()))

	h.feed.mu.Lock()
	handler := h.feed.onStatus
	h.feed.mu.Unlock()
	require.NotNil(t, handler)

	handler(models.FeedDegraded, errors.New("timeout"))
	handler(models.FeedRunning, nil)
	assert.Equal(t, []models.EventKind{models.EventFeedDegraded, models.EventFeedRecovered}, h.events.kinds())
}

func TestHealthTableRestartCounterResetsDaily(t *testing.T) {
	tbl := NewHealthTable()
	tbl.UpdateStatus(models.AccountStatus{AccountID: "a"})

	assert.Equal(t, 1, tbl.NoteRestart("a", "2025-06-10"))
	assert.Equal(t, 2, tbl.NoteRestart("a", "2025-06-10"))
	assert.Equal(t, 2, tbl.RestartsToday("a", "2025-06-10"))
	assert.Equal(t, 0, tbl.RestartsToday("a", "2025-06-11"))

	// строка процессора не затирает счётчик
	tbl.UpdateStatus(models.AccountStatus{AccountID: "a", Health: models.HealthRecord{Status: models.StatusRunning}})
	assert.Equal(t, 2, tbl.RestartsToday("a", "2025-06-10"))

	assert.Equal(t, 1, tbl.NoteRestart("a", "2025-06-11"))
}
