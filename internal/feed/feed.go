package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"breakout_bot/internal/models"
	"breakout_bot/pkg/logger"
)

var (
	ErrDuplicateSubscriber = errors.New("subscriber already registered")
	ErrStopped             = errors.New("feed stopped")
)

// QuoteSource один опрос цены базового актива и VIX.
type QuoteSource interface {
	FetchSnapshot(ctx context.Context) (models.MarketSnapshot, error)
}

type Config struct {
	Interval       time.Duration `yaml:"interval" default:"1s" validate:"gt=0"`
	QueueSize      int           `yaml:"queue_size" default:"100" validate:"gt=0"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" default:"5s" validate:"gt=0"`
	RetryAttempts  int           `yaml:"retry_attempts" default:"5" validate:"gte=1"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" default:"200ms" validate:"gte=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" default:"5s" validate:"gte=0"`
	DegradedAfter  int           `yaml:"degraded_after" default:"5" validate:"gte=1"`
}

type Metrics interface {
	SnapshotPublished()
	SnapshotDropped(subscriber string)
	FetchFailed()
	FeedStatusChanged(status models.FeedStatus)
}

type nopMetrics struct{}

func (nopMetrics) SnapshotPublished()                  {}
func (nopMetrics) SnapshotDropped(string)              {}
func (nopMetrics) FetchFailed()                        {}
func (nopMetrics) FeedStatusChanged(models.FeedStatus) {}

// StatusHandler вызывается из цикла фида при смене статуса.
type StatusHandler func(status models.FeedStatus, cause error)

// Stats срез счётчиков фида.
type Stats struct {
	Status      models.FeedStatus
	Published   uint64
	FetchErrors uint64
	Latest      models.MarketSnapshot
	QueueDepth  map[string]int
	Drops       map[string]uint64
}

// Feed единственный опросчик котировок, раздаёт снапшоты подписчикам.
type Feed struct {
	cfg     Config
	src     QuoteSource
	log     *zap.Logger
	metrics Metrics

	mu       sync.RWMutex
	subs     map[string]*subscriber
	status   models.FeedStatus
	latest   models.MarketSnapshot
	onStatus StatusHandler
	stopped  bool

	failures    int // только из цикла
	published   atomic.Uint64
	fetchErrors atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, src QuoteSource, log *zap.Logger, m Metrics) *Feed {
	if m == nil {
		m = nopMetrics{}
	}
	return &Feed{
		cfg:     cfg,
		src:     src,
		log:     logger.Named(log, "feed"),
		metrics: m,
		subs:    make(map[string]*subscriber),
		status:  models.FeedStarting,
	}
}

// OnStatus регистрирует обработчик смены статуса. Вызывать до Start.
func (f *Feed) OnStatus(h StatusHandler) {
	f.mu.Lock()
	f.onStatus = h
	f.mu.Unlock()
}

// Subscribe регистрирует очередь размера size (<=0 значит из конфига).
func (f *Feed) Subscribe(id string, size int) (<-chan models.MarketSnapshot, error) {
	if size <= 0 {
		size = f.cfg.QueueSize
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return nil, ErrStopped
	}
	if _, ok := f.subs[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, id)
	}
	s := newSubscriber(id, size)
	f.subs[id] = s
	f.log.Info("subscriber added", zap.String("subscriber", id), zap.Int("queue", size))
	return s.ch, nil
}

// Unsubscribe убирает подписчика и закрывает его канал.
func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(s.ch)
	f.log.Info("subscriber removed", zap.String("subscriber", id), zap.Uint64("drops", s.drops.Load()))
}

func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.done != nil || f.stopped {
		f.mu.Unlock()
		return
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	f.mu.Unlock()

	f.setStatus(models.FeedRunning, nil)
	go f.loop(ctx)
}

func (f *Feed) loop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	f.log.Info("feed started", zap.Duration("interval", f.cfg.Interval))
	f.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

// Stop останавливает опрос и закрывает каналы всех подписчиков.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	f.mu.Lock()
	for id, s := range f.subs {
		close(s.ch)
		delete(f.subs, id)
	}
	f.mu.Unlock()

	f.setStatus(models.FeedStopped, nil)
	f.log.Info("feed stopped",
		zap.Uint64("published", f.published.Load()),
		zap.Uint64("fetch_errors", f.fetchErrors.Load()))
}

func (f *Feed) tick(ctx context.Context) {
	var snap models.MarketSnapshot
	err := retry(ctx, f.cfg.RetryAttempts, f.cfg.RetryBaseDelay, f.cfg.RetryMaxDelay, func() error {
		cctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
		defer cancel()

		s, err := f.src.FetchSnapshot(cctx)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.failures++
		f.fetchErrors.Add(1)
		f.metrics.FetchFailed()
		f.log.Warn("snapshot fetch failed", zap.Int("consecutive", f.failures), zap.Error(err))

		if f.failures >= f.cfg.DegradedAfter && f.Status() != models.FeedDegraded {
			f.setStatus(models.FeedDegraded, err)
		}
		return
	}

	if f.failures > 0 {
		f.failures = 0
		if f.Status() == models.FeedDegraded {
			f.setStatus(models.FeedRunning, nil)
		}
	}
	f.publish(snap)
}

// publish раздаёт снапшот всем подписчикам без блокировки.
func (f *Feed) publish(snap models.MarketSnapshot) {
	f.mu.Lock()
	f.latest = snap
	f.mu.Unlock()

	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, s := range f.subs {
		if s.offer(snap) {
			f.metrics.SnapshotDropped(id)
			f.log.Debug("queue full, oldest snapshot dropped",
				zap.String("subscriber", id), zap.Uint64("drops", s.drops.Load()))
		}
	}
	f.published.Add(1)
	f.metrics.SnapshotPublished()
}

func (f *Feed) setStatus(status models.FeedStatus, cause error) {
	f.mu.Lock()
	if f.status == status {
		f.mu.Unlock()
		return
	}
	prev := f.status
	f.status = status
	h := f.onStatus
	f.mu.Unlock()

	f.metrics.FeedStatusChanged(status)
	fields := []zap.Field{zap.String("from", string(prev)), zap.String("to", string(status))}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	f.log.Info("feed status changed", fields...)
	if h != nil {
		h(status, cause)
	}
}

func (f *Feed) Status() models.FeedStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

// Latest последний опубликованный снапшот, ok=false если ещё не было.
func (f *Feed) Latest() (models.MarketSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, !f.latest.Timestamp.IsZero()
}

// Drops сколько снапшотов потерял подписчик.
func (f *Feed) Drops(id string) uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.subs[id]; ok {
		return s.drops.Load()
	}
	return 0
}

func (f *Feed) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st := Stats{
		Status:      f.status,
		Published:   f.published.Load(),
		FetchErrors: f.fetchErrors.Load(),
		Latest:      f.latest,
		QueueDepth:  make(map[string]int, len(f.subs)),
		Drops:       make(map[string]uint64, len(f.subs)),
	}
	for id, s := range f.subs {
		st.QueueDepth[id] = s.depth()
		st.Drops[id] = s.drops.Load()
	}
	return st
}

// Subscribers отсортированные id подписчиков.
func (f *Feed) Subscribers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
