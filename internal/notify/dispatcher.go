package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"breakout_bot/internal/models"
	"breakout_bot/pkg/logger"
)

type DropCounter interface {
	NotificationDropped(sink string)
}

type nopDrops struct{}

func (nopDrops) NotificationDropped(string) {}

type DispatcherConfig struct {
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher асинхронная очередь перед синком. Notify никогда не блокирует:
// при полной очереди событие отбрасывается. Ошибки доставки только логируются.
type Dispatcher struct {
	sink    Sink
	cfg     DispatcherConfig
	log     *zap.Logger
	drops   DropCounter
	dropped atomic.Uint64

	mu     sync.RWMutex
	q      chan models.Event
	closed bool

	startOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
}

func NewDispatcher(sink Sink, cfg DispatcherConfig, log *zap.Logger, drops DropCounter) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if drops == nil {
		drops = nopDrops{}
	}
	return &Dispatcher{
		sink:  sink,
		cfg:   cfg,
		log:   logger.Named(log, "notify").With(zap.String("sink", sink.Name())),
		drops: drops,
		q:     make(chan models.Event, cfg.QueueSize),
		done:  make(chan struct{}),
	}
}

func (d *Dispatcher) Notify(ev models.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.q <- ev:
	default:
		d.dropped.Add(1)
		d.drops.NotificationDropped(d.sink.Name())
		d.log.Warn("notification dropped, queue full",
			zap.String("kind", string(ev.Kind)), zap.String("account", ev.AccountID))
	}
}

// Start запускает доставку. ctx ограничивает только отдельные отправки.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.started.Store(true)
		go d.loop(context.WithoutCancel(ctx))
	})
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for ev := range d.q {
		d.deliver(ctx, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.Event) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("sink panicked", zap.Any("panic", r), zap.String("kind", string(ev.Kind)))
		}
	}()
	if err := d.sink.Send(sctx, ev); err != nil {
		d.log.Error("notification not delivered",
			zap.String("kind", string(ev.Kind)), zap.String("account", ev.AccountID), zap.Error(err))
	}
}

// Stop закрывает очередь и ждёт отправки оставшегося, но не дольше ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.q)
	}
	d.mu.Unlock()

	if !d.started.Load() {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Pending событий в очереди.
func (d *Dispatcher) Pending() int { return len(d.q) }
