package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"breakout_bot/internal/calendar"
	"breakout_bot/internal/engine"
	"breakout_bot/internal/models"
	"breakout_bot/pkg/logger"
	"breakout_bot/pkg/tracing"
)

// Notifier получатель событий аккаунта. Не должен блокировать.
type Notifier interface {
	Notify(ev models.Event)
}

// StatusPublisher таблица здоровья оркестратора.
type StatusPublisher interface {
	UpdateStatus(st models.AccountStatus)
}

type Metrics interface {
	engine.Metrics
	StepObserved(account string, d time.Duration)
	ProcessorFault(account string)
	ProcessorRestarted(account string)
	AccountStatus(st models.AccountStatus)
}

type Deps struct {
	Chain    engine.OptionChainSource
	Executor engine.OrderExecutor
	Calendar *calendar.Calendar
	Store    StateStore
	Notifier Notifier
	Status   StatusPublisher
	Logger   *zap.Logger
	Metrics  Metrics
	Now      func() time.Time
}

// worker одна итерация жизни процессора. Restart заменяет его целиком.
type worker struct {
	gen      uint64
	eng      *engine.Engine
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (w *worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Processor владеет движком одного аккаунта и читает свою очередь снапшотов.
// Сбои движка не выходят за его границы.
type Processor struct {
	acc  models.AccountConfig
	opts Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	in      <-chan models.MarketSnapshot
	control chan string // причины Halt

	mu       sync.Mutex
	base     context.Context
	w        *worker
	gen      uint64
	state    models.AccountState
	health   models.HealthRecord
	exposure models.Exposure
	stopped  bool
}

// New собирает конфиг аккаунта и поднимает сохранённое состояние.
func New(ctx context.Context, desc models.AccountDescriptor, base models.StrategyConfig, opts Config, deps Deps) (*Processor, error) {
	acc, err := ResolveConfig(desc, base)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	st, ok, err := deps.Store.Load(ctx, desc.ID)
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", desc.ID, err)
	}
	if !ok {
		st = models.AccountState{AccountID: desc.ID}
	}

	p := &Processor{
		acc:     acc,
		opts:    opts,
		deps:    deps,
		log:     logger.Named(deps.Logger, "processor").With(zap.String("account", desc.ID)),
		now:     now,
		control: make(chan string, 1),
		state:   st,
		health:  models.HealthRecord{Status: models.StatusStarting},
	}
	if ok {
		p.log.Info("state restored",
			zap.String("day", st.Daily.DayID),
			zap.Int("trades", st.Daily.TradeCount),
			zap.Float64("realized_pnl", st.Daily.RealizedPnL),
			zap.Bool("position", st.Position != nil))
	}
	return p, nil
}

func (p *Processor) ID() string                   { return p.acc.Account.ID }
func (p *Processor) Config() models.AccountConfig { return p.acc }

// Start запускает воркер на очереди in. Повторный вызов ошибка.
func (p *Processor) Start(ctx context.Context, in <-chan models.MarketSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.w != nil {
		return fmt.Errorf("processor %s already started", p.ID())
	}
	p.base = ctx
	p.in = in
	p.health.LastHeartbeat = p.now()
	p.health.Status = models.StatusRunning
	p.spawnLocked()

	p.deps.Notifier.Notify(p.event(models.EventStartup,
		"🚀 Аккаунт %s запущен | риск на сделку %.0f$ | лимит сделок %d | дневной лимит убытка %.0f$",
		p.acc.Account.DisplayName(), p.acc.Strategy.RiskPerSide, p.acc.Strategy.MaxDailyTrades, p.acc.Strategy.MaxDailyLoss))
	p.publishLocked()
	return nil
}

func (p *Processor) spawnLocked() {
	p.gen++
	ctx, cancel := context.WithCancel(p.base)
	w := &worker{
		gen: p.gen,
		eng: engine.New(p.acc, engine.Deps{
			Chain:    p.deps.Chain,
			Executor: p.deps.Executor,
			Calendar: p.deps.Calendar,
			Logger:   p.deps.Logger,
			Metrics:  p.deps.Metrics,
		}, p.state),
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.w = w
	go p.run(ctx, w)
}

func (p *Processor) run(ctx context.Context, w *worker) {
	defer close(w.done)
	defer w.cancel()

	haltReason := ""
	// Halt мог прийти раньше Stop, пока шёл шаг: позицию закрываем до выхода
	defer func() { p.haltOnExit(ctx, w, haltReason) }()
	for {
		// stop проверяем до чтения очереди, чтобы не взять лишний снапшот
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case reason := <-p.control:
			haltReason = reason
			if p.halt(ctx, w, haltReason) {
				haltReason = ""
			}
		case snap, ok := <-p.in:
			if !ok {
				p.log.Info("snapshot queue closed")
				return
			}
			if haltReason != "" && p.halt(ctx, w, haltReason) {
				haltReason = ""
			}
			if !p.step(ctx, w, snap) {
				return
			}
		}
	}
}

// step false если воркер должен остановиться (Failed).
func (p *Processor) step(ctx context.Context, w *worker, snap models.MarketSnapshot) (alive bool) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("engine panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			alive = p.fault(w, fmt.Errorf("%w: panic: %v", ErrProcessorFault, r))
		}
	}()

	span, sctx := opentracing.StartSpanFromContext(ctx, "processor.step")
	span.SetTag("account", p.ID())
	defer span.Finish()

	sctx, cancel := context.WithTimeout(sctx, p.opts.StepTimeout)
	defer cancel()

	res, err := w.eng.Process(sctx, snap)
	if err != nil {
		if errors.Is(err, engine.ErrDataIntegrity) {
			// heartbeat только после успешного шага
			p.log.Warn("snapshot skipped", zap.Error(err))
			return true
		}
		return p.fault(w, tracing.Fail(span, fmt.Errorf("%w: %v", ErrProcessorFault, err)))
	}

	p.dispatch(res.Events)
	p.beat(w, res.Action != engine.ActionNone || len(res.Events) > 0)
	p.deps.Metrics.StepObserved(p.ID(), p.now().Sub(start))
	return true
}

// halt принудительное закрытие и стоп до конца дня. true если позиция закрыта или её не было.
func (p *Processor) halt(ctx context.Context, w *worker, reason string) bool {
	res, err := w.eng.ForceClose(ctx, p.now(), reason)
	p.dispatch(res.Events)
	p.beat(w, true)
	if err != nil {
		p.log.Warn("force close failed, will retry", zap.String("reason", reason), zap.Error(err))
		return false
	}
	p.log.Info("account halted", zap.String("reason", reason))
	return true
}

// haltOnExit выполняет отложенный Halt перед выходом воркера. Отмена ctx (Kill) не мешает
// закрыть позицию, время ограничено StepTimeout.
func (p *Processor) haltOnExit(ctx context.Context, w *worker, reason string) {
	select {
	case r := <-p.control:
		reason = r
	default:
	}
	if reason == "" {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.StepTimeout)
	defer cancel()
	if !p.halt(hctx, w, reason) {
		p.log.Error("worker exits with position still open", zap.String("reason", reason))
	}
}

// beat обновляет heartbeat, кэш состояния и строку статуса. Старое поколение игнорируется.
func (p *Processor) beat(w *worker, persist bool) {
	st := w.eng.Persistent()
	exposure := w.eng.Exposure()

	p.mu.Lock()
	if w.gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.state = st
	p.exposure = exposure
	p.health.LastHeartbeat = p.now()
	p.health.ConsecutiveFailures = 0
	if !p.stopped {
		p.health.Status = models.StatusRunning
	}
	p.publishLocked()
	p.mu.Unlock()

	if persist {
		if err := p.deps.Store.Save(context.WithoutCancel(p.base), st); err != nil {
			p.log.Warn("state save failed", zap.Error(err))
		}
	}
}

// fault переводит в Degraded, после лимита подряд в Failed.
func (p *Processor) fault(w *worker, err error) bool {
	p.deps.Metrics.ProcessorFault(p.ID())

	p.mu.Lock()
	if w.gen != p.gen {
		p.mu.Unlock()
		return false
	}
	p.health.ConsecutiveFailures++
	p.health.LastError = err.Error()
	failures := p.health.ConsecutiveFailures
	failed := failures >= p.opts.MaxConsecutiveFaults
	if failed {
		p.health.Status = models.StatusFailed
	} else {
		p.health.Status = models.StatusDegraded
	}
	p.publishLocked()
	p.mu.Unlock()

	p.log.Error("processing step failed", zap.Int("consecutive", failures), zap.Error(err))
	if failed {
		p.deps.Notifier.Notify(p.event(models.EventFailed,
			"🛑 Аккаунт %s остановлен: %d ошибок подряд, последняя: %v", p.acc.Account.DisplayName(), failures, err))
		return false
	}
	if failures == 1 {
		p.deps.Notifier.Notify(p.event(models.EventDegraded,
			"⚠️ Аккаунт %s: ошибка обработки: %v", p.acc.Account.DisplayName(), err))
	}
	return true
}

// Restart гасит текущий воркер (с ограниченным ожиданием) и поднимает новый
// на той же очереди. DailyState и открытая позиция сохраняются.
func (p *Processor) Restart() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	old := p.w
	if old == nil {
		p.mu.Unlock()
		return ErrNotStarted
	}
	// новое поколение сразу: старый воркер больше ничего не пишет
	p.gen++
	p.mu.Unlock()

	old.signalStop()
	exited := waitDone(old.done, p.opts.RestartWait)
	if !exited {
		p.log.Warn("worker did not stop in time, cancelling", zap.Duration("wait", p.opts.RestartWait))
		old.cancel()
		exited = waitDone(old.done, p.opts.RestartWait)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !exited {
		err := fmt.Errorf("%w: %s after %s", ErrWorkerStuck, p.ID(), 2*p.opts.RestartWait)
		p.health.Status = models.StatusFailed
		p.health.LastError = err.Error()
		p.publishLocked()
		p.log.Error("restart aborted", zap.Error(err))
		return err
	}
	// последний шаг старого воркера мог не попасть в кэш
	p.state = old.eng.Persistent()
	if p.stopped {
		return ErrStopped
	}
	p.spawnLocked()
	p.health.RestartCount++
	p.health.ConsecutiveFailures = 0
	p.health.LastError = ""
	p.health.Status = models.StatusRunning
	p.health.LastHeartbeat = p.now()
	p.publishLocked()

	p.deps.Metrics.ProcessorRestarted(p.ID())
	p.log.Info("processor restarted", zap.Int("restarts", p.health.RestartCount), zap.Uint64("gen", p.gen))
	p.deps.Notifier.Notify(p.event(models.EventRestarted,
		"🔄 Аккаунт %s перезапущен (всего %d)", p.acc.Account.DisplayName(), p.health.RestartCount))
	return nil
}

// Halt просит воркер закрыть позицию и остановить торговлю до конца дня. Не блокирует.
func (p *Processor) Halt(reason string) {
	select {
	case p.control <- reason:
	default:
		// запрос уже в очереди
	}
}

// Stop дорабатывает текущий снапшот и больше не берёт новые.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.w != nil {
		p.w.signalStop()
	}
	p.health.Status = models.StatusStopped
	p.publishLocked()
}

// Kill отменяет текущие вызовы брокера.
func (p *Processor) Kill() {
	p.mu.Lock()
	w := p.w
	p.mu.Unlock()
	if w != nil {
		w.cancel()
	}
}

// Done закрывается, когда текущий воркер вышел.
func (p *Processor) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.w.done
}

// MarkFailed ставит Failed без остановки воркера (решение оркестратора).
func (p *Processor) MarkFailed(reason string) {
	p.mu.Lock()
	p.health.Status = models.StatusFailed
	p.health.LastError = reason
	p.publishLocked()
	p.mu.Unlock()
}

func (p *Processor) Status() models.AccountStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Processor) statusLocked() models.AccountStatus {
	return models.AccountStatus{
		AccountID: p.ID(),
		Name:      p.acc.Account.DisplayName(),
		Health:    p.health,
		Daily:     p.state.Daily,
		Exposure:  p.exposure,
	}
}

func (p *Processor) publishLocked() {
	st := p.statusLocked()
	p.deps.Metrics.AccountStatus(st)
	if p.deps.Status != nil {
		p.deps.Status.UpdateStatus(st)
	}
}

// Summary итоги аккаунта для сообщения при остановке.
func (p *Processor) Summary() string {
	p.mu.Lock()
	t := p.state.Totals
	d := p.state.Daily
	p.mu.Unlock()

	return fmt.Sprintf("📊 %s | сигналов %d | сделок %d | W/L %d/%d (%.1f%%) | P&L %.2f$ | сегодня %.2f$",
		p.acc.Account.DisplayName(), t.Signals, t.Trades, t.Wins, t.Losses, t.WinRate(), t.TotalPnL, d.RealizedPnL)
}

func (p *Processor) dispatch(events []models.Event) {
	for _, ev := range events {
		p.deps.Notifier.Notify(ev)
	}
}

func (p *Processor) event(kind models.EventKind, format string, args ...any) models.Event {
	return models.Event{
		Kind:      kind,
		AccountID: p.ID(),
		At:        p.now(),
		Message:   fmt.Sprintf(format, args...),
	}
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

type nopMetrics struct{}

func (nopMetrics) SignalDetected(string, models.Regime)              {}
func (nopMetrics) PositionOpened(string)                             {}
func (nopMetrics) PositionClosed(string, models.ExitReason, float64) {}
func (nopMetrics) StepObserved(string, time.Duration)                {}
func (nopMetrics) ProcessorFault(string)                             {}
func (nopMetrics) ProcessorRestarted(string)                         {}
func (nopMetrics) AccountStatus(models.AccountStatus)                {}

type nopNotifier struct{}

func (nopNotifier) Notify(models.Event) {}
