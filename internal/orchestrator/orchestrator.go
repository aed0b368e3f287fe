package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"breakout_bot/internal/calendar"
	"breakout_bot/internal/feed"
	"breakout_bot/internal/models"
	"breakout_bot/internal/runner"
	"breakout_bot/pkg/logger"
)

var (
	ErrNoAccounts   = errors.New("no enabled accounts")
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

type Config struct {
	Stagger            time.Duration `yaml:"stagger" default:"0s" validate:"gte=0"`
	HealthInterval     time.Duration `yaml:"health_interval" default:"30s" validate:"gt=0"`
	HeartbeatThreshold time.Duration `yaml:"heartbeat_threshold" default:"90s" validate:"gt=0"`
	MaxRestartsPerDay  int           `yaml:"max_restarts_per_day" default:"3" validate:"gte=0"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace" default:"10s" validate:"gt=0"`

	Global GlobalRisk `yaml:"global"`
}

// GlobalRisk лимиты по всем аккаунтам сразу. 0 отключает лимит.
type GlobalRisk struct {
	MaxTotalLoss     float64 `yaml:"max_total_loss" default:"0" validate:"gte=0"`
	MaxOpenPositions int     `yaml:"max_open_positions" default:"0" validate:"gte=0"`
}

// Feed то, что оркестратору нужно от рыночного фида.
type Feed interface {
	Subscribe(id string, size int) (<-chan models.MarketSnapshot, error)
	Unsubscribe(id string)
	OnStatus(h feed.StatusHandler)
	Start(ctx context.Context)
	Stop()
	Status() models.FeedStatus
}

// Processor то, что оркестратору нужно от процессора аккаунта.
type Processor interface {
	ID() string
	Start(ctx context.Context, in <-chan models.MarketSnapshot) error
	Restart() error
	Halt(reason string)
	Stop()
	Kill()
	Done() <-chan struct{}
	MarkFailed(reason string)
	Status() models.AccountStatus
	Summary() string
}

// ProcessorFactory собирает процессор аккаунта. status таблица здоровья оркестратора.
type ProcessorFactory func(ctx context.Context, desc models.AccountDescriptor, status runner.StatusPublisher) (Processor, error)

type Notifier interface {
	Notify(ev models.Event)
}

type Metrics interface {
	GlobalExposure(loss float64, openPositions int)
}

type nopMetrics struct{}

func (nopMetrics) GlobalExposure(float64, int) {}

// Orchestrator запускает процессоры, следит за здоровьем и глобальным риском.
type Orchestrator struct {
	cfg      Config
	accounts []models.AccountDescriptor
	feed     Feed
	factory  ProcessorFactory
	cal      *calendar.Calendar
	notifier Notifier
	metrics  Metrics
	log      *zap.Logger
	now      func() time.Time

	table *HealthTable

	mu     sync.Mutex
	procs  []Processor
	failed map[string]bool

	stopping      atomic.Bool
	emergency     chan struct{}
	emergencyOnce sync.Once

	healthCancel context.CancelFunc
	healthDone   chan struct{}

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shutdownErr  error
}

// New accounts фиксируются здесь: выключенные отбрасываются, список больше не меняется.
func New(
	cfg Config,
	accounts []models.AccountDescriptor,
	f Feed,
	factory ProcessorFactory,
	cal *calendar.Calendar,
	notifier Notifier,
	metrics Metrics,
	log *zap.Logger,
) *Orchestrator {
	enabled := make([]models.AccountDescriptor, 0, len(accounts))
	for _, a := range accounts {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Orchestrator{
		cfg:          cfg,
		accounts:     enabled,
		feed:         f,
		factory:      factory,
		cal:          cal,
		notifier:     notifier,
		metrics:      metrics,
		log:          logger.Named(log, "orchestrator"),
		now:          time.Now,
		table:        NewHealthTable(),
		failed:       make(map[string]bool),
		emergency:    make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
}

// Start поднимает процессоры с шагом stagger, затем фид, затем цикл здоровья.
func (o *Orchestrator) Start(ctx context.Context) error {
	if len(o.accounts) == 0 {
		return ErrNoAccounts
	}

	started := 0
	for i, desc := range o.accounts {
		if i > 0 && o.cfg.Stagger > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.Stagger):
			}
		}
		if o.stopping.Load() {
			return ErrShuttingDown
		}
		if err := o.startAccount(ctx, desc); err != nil {
			o.log.Error("account not started", zap.String("account", desc.ID), zap.Error(err))
			o.table.SetStatus(desc.ID, models.StatusFailed, err.Error())
			o.notify(models.Event{
				Kind:      models.EventFailed,
				AccountID: desc.ID,
				At:        o.now(),
				Message:   fmt.Sprintf("🛑 Аккаунт %s не запущен: %v", desc.DisplayName(), err),
			})
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("%w: all %d accounts failed to start", ErrNoAccounts, len(o.accounts))
	}

	o.feed.OnStatus(o.onFeedStatus)
	o.feed.Start(ctx)

	hctx, cancel := context.WithCancel(ctx)
	o.healthCancel = cancel
	o.healthDone = make(chan struct{})
	go o.healthLoop(hctx)

	o.log.Info("orchestrator started", zap.Int("accounts", started), zap.Int("configured", len(o.accounts)))
	return nil
}

func (o *Orchestrator) startAccount(ctx context.Context, desc models.AccountDescriptor) error {
	p, err := o.factory(ctx, desc, o.table)
	if err != nil {
		return err
	}
	in, err := o.feed.Subscribe(desc.ID, 0)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := p.Start(ctx, in); err != nil {
		o.feed.Unsubscribe(desc.ID)
		return fmt.Errorf("start processor: %w", err)
	}

	o.mu.Lock()
	o.procs = append(o.procs, p)
	o.mu.Unlock()
	o.log.Info("account started", zap.String("account", desc.ID), zap.String("name", desc.DisplayName()))
	return nil
}

func (o *Orchestrator) onFeedStatus(status models.FeedStatus, cause error) {
	switch status {
	case models.FeedDegraded:
		o.notify(models.Event{
			Kind:    models.EventFeedDegraded,
			At:      o.now(),
			Message: fmt.Sprintf("📉 Поток котировок деградировал: %v", cause),
		})
	case models.FeedRunning:
		o.notify(models.Event{
			Kind:    models.EventFeedRecovered,
			At:      o.now(),
			Message: "📈 Поток котировок восстановлен",
		})
	}
}

func (o *Orchestrator) processors() []Processor {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Processor, len(o.procs))
	copy(out, o.procs)
	return out
}

// Accounts строки статуса всех аккаунтов.
func (o *Orchestrator) Accounts() []models.AccountStatus { return o.table.All() }

func (o *Orchestrator) FeedStatus() models.FeedStatus { return o.feed.Status() }

// Emergency закрывается при глобальном аварийном стопе.
func (o *Orchestrator) Emergency() <-chan struct{} { return o.emergency }

func (o *Orchestrator) Stopping() bool { return o.stopping.Load() }

// Stopped закрывается, когда Shutdown (в том числе аварийный) завершён.
func (o *Orchestrator) Stopped() <-chan struct{} { return o.shutdownDone }

// Shutdown останавливает всё в фиксированном порядке. Повторные вызовы ждут первый.
func (o *Orchestrator) Shutdown(ctx context.Context, reason string) error {
	o.shutdownOnce.Do(func() {
		defer close(o.shutdownDone)
		o.shutdownErr = o.shutdown(ctx, reason)
	})

	select {
	case <-o.shutdownDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.shutdownErr
}

func (o *Orchestrator) shutdown(ctx context.Context, reason string) error {
	o.stopping.Store(true)
	o.log.Info("shutdown started", zap.String("reason", reason))

	o.feed.Stop()

	procs := o.processors()
	for _, p := range procs {
		p.Stop()
	}

	graceCtx, cancel := context.WithTimeout(ctx, o.cfg.ShutdownGrace)
	defer cancel()

	var g errgroup.Group
	for _, p := range procs {
		g.Go(func() error {
			select {
			case <-p.Done():
				return nil
			case <-graceCtx.Done():
				p.Kill()
				o.log.Warn("processor killed after grace period", zap.String("account", p.ID()))
				return fmt.Errorf("processor %s did not stop in %s", p.ID(), o.cfg.ShutdownGrace)
			}
		})
	}
	waitErr := g.Wait()

	if o.healthCancel != nil {
		o.healthCancel()
		<-o.healthDone
	}

	for _, p := range procs {
		o.notify(models.Event{
			Kind:      models.EventShutdown,
			AccountID: p.ID(),
			At:        o.now(),
			Message:   "🛑 Остановка: " + reason + "\n" + p.Summary(),
		})
	}
	o.log.Info("shutdown complete", zap.Error(waitErr))
	return waitErr
}

func (o *Orchestrator) notify(ev models.Event) {
	if o.notifier != nil {
		o.notifier.Notify(ev)
	}
}
