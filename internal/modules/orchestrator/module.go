package orchestrator

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"breakout_bot/internal/calendar"
	"breakout_bot/internal/engine"
	"breakout_bot/internal/feed"
	"breakout_bot/internal/models"
	"breakout_bot/internal/modules/config"
	"breakout_bot/internal/modules/health/service"
	"breakout_bot/internal/modules/metrics"
	telegram "breakout_bot/internal/modules/telegram_bot"
	"breakout_bot/internal/modules/tradier"
	"breakout_bot/internal/notify"
	orch "breakout_bot/internal/orchestrator"
	"breakout_bot/internal/runner"
)

func NewCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	return calendar.New(cfg.Market)
}

func NewFeed(cfg *config.Config, src feed.QuoteSource, log *zap.Logger, rec *metrics.Recorder) *feed.Feed {
	return feed.New(cfg.Feed, src, log, rec)
}

// NewDispatcher очередь уведомлений: лог всегда, телеграм по маршрутам аккаунтов.
func NewDispatcher(cfg *config.Config, router *notify.Router, log *zap.Logger, rec *metrics.Recorder) *notify.Dispatcher {
	sink := notify.Multi{notify.NewLog(log), router}
	return notify.NewDispatcher(sink, notify.DispatcherConfig{
		QueueSize:   cfg.Telegram.QueueSize,
		SendTimeout: 10 * time.Second,
	}, log, rec)
}

type FactoryParams struct {
	fx.In

	Config     *config.Config
	Chain      engine.OptionChainSource
	Executors  tradier.ExecutorFactory
	Calendar   *calendar.Calendar
	Store      runner.StateStore
	Dispatcher *notify.Dispatcher
	Recorder   *metrics.Recorder
	Log        *zap.Logger
}

// NewProcessorFactory у каждого аккаунта свой исполнитель, остальное общее.
func NewProcessorFactory(p FactoryParams) orch.ProcessorFactory {
	return func(ctx context.Context, desc models.AccountDescriptor, status runner.StatusPublisher) (orch.Processor, error) {
		return runner.New(ctx, desc, p.Config.Strategy, p.Config.Processor, runner.Deps{
			Chain:    p.Chain,
			Executor: p.Executors(desc),
			Calendar: p.Calendar,
			Store:    p.Store,
			Notifier: p.Dispatcher,
			Status:   status,
			Logger:   p.Log,
			Metrics:  p.Recorder,
		})
	}
}

func NewOrchestrator(
	cfg *config.Config,
	accounts config.Accounts,
	f *feed.Feed,
	factory orch.ProcessorFactory,
	cal *calendar.Calendar,
	d *notify.Dispatcher,
	rec *metrics.Recorder,
	log *zap.Logger,
) *orch.Orchestrator {
	return orch.New(cfg.Orchestration, accounts, f, factory, cal, d, rec, log)
}

type RunParams struct {
	fx.In

	Lifecycle    fx.Lifecycle
	Shutdowner   fx.Shutdowner
	Orchestrator *orch.Orchestrator
	Dispatcher   *notify.Dispatcher
	State        *service.State
	Bots         *telegram.Bots
	Log          *zap.Logger
}

// Run связывает жизненный цикл: диспетчер раньше оркестратора, останавливается позже.
// Аварийный стоп гасит всё приложение.
func Run(p RunParams) {
	var cancel context.CancelFunc
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// контекст процессоров живёт дольше OnStart
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			p.Dispatcher.Start(ctx)
			if err := p.Orchestrator.Start(ctx); err != nil {
				cancel()
				return err
			}
			p.State.SetSource(p.Orchestrator)
			p.State.SetReady(true)
			if p.Bots.Shared != nil {
				p.Bots.Shared.SetStatusSource(p.Orchestrator)
			}

			go watchEmergency(ctx, p.Orchestrator, p.Shutdowner, p.Log)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.State.SetReady(false)
			err := p.Orchestrator.Shutdown(ctx, "остановка сервиса")
			if cancel != nil {
				cancel()
			}
			if derr := p.Dispatcher.Stop(ctx); derr != nil {
				p.Log.Warn("notifications not flushed", zap.Error(derr))
			}
			return err
		},
	})
}

type emergencySource interface {
	Emergency() <-chan struct{}
	Stopped() <-chan struct{}
}

// watchEmergency после глобального стопа ждёт, пока оркестратор сам закроет позиции
// и остановится, и только потом гасит приложение. OnStop не должен его опередить.
func watchEmergency(ctx context.Context, o emergencySource, sd fx.Shutdowner, log *zap.Logger) {
	select {
	case <-o.Emergency():
	case <-ctx.Done():
		return
	}
	log.Error("global emergency stop, waiting for positions to close")
	select {
	case <-o.Stopped():
	case <-ctx.Done():
		return
	}
	if err := sd.Shutdown(fx.ExitCode(2)); err != nil {
		log.Error("shutdown request failed", zap.Error(err))
	}
}

func Module() fx.Option {
	return fx.Module("orchestrator",
		fx.Provide(
			NewCalendar,
			NewFeed,
			NewDispatcher,
			NewProcessorFactory,
			NewOrchestrator,
		),
		fx.Invoke(Run),
	)
}
