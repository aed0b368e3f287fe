package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"breakout_bot/internal/calendar"
	"breakout_bot/internal/models"
	"breakout_bot/pkg/logger"
)

type State int

const (
	StateIdle State = iota
	StateSignalPending
	StatePositionOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSignalPending:
		return "signal_pending"
	case StatePositionOpen:
		return "position_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Action string

const (
	ActionNone  Action = ""
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// Result итог одного шага: максимум одно действие плюс события для уведомлений.
type Result struct {
	Action Action
	Signal *models.Signal
	Opened *models.Position
	Closed *models.ClosedTrade
	Events []models.Event
}

type Deps struct {
	Chain    OptionChainSource
	Executor OrderExecutor
	Calendar *calendar.Calendar
	Logger   *zap.Logger
	Metrics  Metrics
}

// Engine автомат одного аккаунта. Не потокобезопасен: им владеет один процессор.
type Engine struct {
	accountID string
	cfg       models.StrategyConfig

	chain   OptionChainSource
	exec    OrderExecutor
	cal     *calendar.Calendar
	log     *zap.Logger
	metrics Metrics

	state         State
	window        *RollingWindow
	lastTS        time.Time
	earlySignalAt time.Time
	riskNotified  string // день, за который уже сообщили о лимите

	daily       models.DailyState
	pos         *models.Position
	nextTradeID int64
	totals      models.Totals
}

// New собирает движок. st восстанавливает дневные счётчики и открытую позицию после рестарта;
// окно цен и ранний сигнал всегда начинаются с нуля.
func New(cfg models.AccountConfig, deps Deps, st models.AccountState) *Engine {
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	e := &Engine{
		accountID:   cfg.Account.ID,
		cfg:         cfg.Strategy,
		chain:       deps.Chain,
		exec:        deps.Executor,
		cal:         deps.Calendar,
		log:         logger.Named(deps.Logger, "engine").With(zap.String("account", cfg.Account.ID)),
		metrics:     m,
		window:      NewRollingWindow(cfg.Strategy.Window),
		daily:       st.Daily,
		nextTradeID: st.NextTradeID,
		totals:      st.Totals,
	}
	if st.Position != nil {
		p := *st.Position
		e.pos = &p
		e.state = StatePositionOpen
	}
	return e
}

func (e *Engine) State() State { return e.state }

// Persistent то, что переживает рестарт.
func (e *Engine) Persistent() models.AccountState {
	st := models.AccountState{
		AccountID:   e.accountID,
		Daily:       e.daily,
		NextTradeID: e.nextTradeID,
		Totals:      e.totals,
		UpdatedAt:   e.lastTS,
	}
	if e.pos != nil {
		p := *e.pos
		st.Position = &p
	}
	return st
}

// Exposure открытый риск по последней известной цене опциона.
func (e *Engine) Exposure() models.Exposure {
	if e.pos == nil {
		return models.Exposure{}
	}
	x := models.Exposure{OpenPositions: 1}
	if !e.pos.LastMarkAt.IsZero() {
		x.UnrealizedPnL = unrealized(e.pos, e.pos.LastMark, e.cfg.FeePerContract())
	}
	return x
}

func (e *Engine) Daily() models.DailyState { return e.daily }

func (e *Engine) Totals() models.Totals { return e.totals }

// Process один снапшот. Ошибка только ErrDataIntegrity: снапшот пропущен, состояние не тронуто.
func (e *Engine) Process(ctx context.Context, snap models.MarketSnapshot) (Result, error) {
	var res Result

	if !snap.Valid() {
		return res, fmt.Errorf("%w: malformed snapshot price=%v vix=%v at=%s",
			ErrDataIntegrity, snap.Price, snap.VIX, snap.Timestamp)
	}
	if !e.lastTS.IsZero() && !snap.Timestamp.After(e.lastTS) {
		return res, fmt.Errorf("%w: snapshot at %s is not after %s",
			ErrDataIntegrity, snap.Timestamp.Format(time.RFC3339Nano), e.lastTS.Format(time.RFC3339Nano))
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.process")
	span.SetTag("account", e.accountID)
	defer span.Finish()

	e.lastTS = snap.Timestamp
	e.rollDay(snap.Timestamp, &res)
	e.window.Push(snap.Timestamp, snap.Price)

	if e.pos != nil {
		e.manageOpen(ctx, snap, &res)
		return res, nil
	}
	e.tryEnter(ctx, snap, &res)
	return res, nil
}

func (e *Engine) rollDay(now time.Time, res *Result) {
	dayID := e.cal.DayID(now)
	if e.daily.DayID == dayID {
		return
	}
	prev := e.daily.DayID
	e.daily = models.NewDailyState(dayID)
	e.earlySignalAt = time.Time{}
	if prev != "" {
		e.log.Info("new trading day", zap.String("day", dayID), zap.String("prev", prev))
		res.Events = append(res.Events, e.event(models.EventNewDay, now, "📅 Новый торговый день %s", dayID))
	}
}

func (e *Engine) tryEnter(ctx context.Context, snap models.MarketSnapshot, res *Result) {
	params, regime, err := regimeParams(e.cfg, snap)
	if err != nil {
		e.log.Debug("signal gate", zap.Error(err), zap.Float64("vix", snap.VIX), zap.Time("vix_at", snap.VIXAt))
		return
	}

	sig, ok := detectBreakout(e.window, snap, e.cfg.ReferencePrice, params)
	if !ok {
		return
	}
	sig.Regime = regime

	now := snap.Timestamp
	open, cl := e.cal.Session(now)
	openReady := open.Add(e.cfg.OpenBuffer)

	// сигнал в первые минуты сессии гасим и включаем отдельный кулдаун
	if !now.Before(open) && now.Before(openReady) {
		if e.earlySignalAt.IsZero() {
			e.earlySignalAt = now
			e.log.Info("early signal suppressed, cooldown started",
				zap.Duration("cooldown", e.cfg.EarlySignalCooldown))
		}
		return
	}
	if !e.earlySignalAt.IsZero() {
		if now.Sub(e.earlySignalAt) < e.cfg.EarlySignalCooldown {
			return
		}
		e.earlySignalAt = time.Time{}
	}

	if reason := e.timingBlock(now, open, cl); reason != "" {
		e.log.Debug("entry blocked", zap.String("reason", reason))
		return
	}
	if err := e.riskBlock(now, res); err != nil {
		e.log.Debug("entry blocked", zap.Error(err))
		return
	}

	e.state = StateSignalPending
	defer func() {
		if e.pos == nil {
			e.state = StateIdle
		}
	}()

	e.totals.Signals++
	e.metrics.SignalDetected(e.accountID, regime)
	res.Signal = &sig
	res.Events = append(res.Events, models.Event{
		Kind:      models.EventSignal,
		AccountID: e.accountID,
		At:        now,
		Message: fmt.Sprintf("🎯 [%s] Пробой %s %.2f | ход %.2f (%.2f%%) > порог %.2f | %s VIX=%.2f",
			sig.Symbol, sig.Direction, sig.Price, sig.MovePoints, sig.MovePct, sig.Threshold, regime, sig.VIX),
		Signal: &sig,
	})

	e.open(ctx, sig, params, res)
}

// timingBlock пустая строка если все временные гейты пройдены.
func (e *Engine) timingBlock(now, open, cl time.Time) string {
	if !e.cal.IsTradingDay(now) {
		return "not a trading day"
	}
	if now.Before(open.Add(e.cfg.OpenBuffer)) {
		return "market open buffer"
	}
	h, m := e.cfg.EntryDeadline()
	if now.After(e.cal.At(now, h, m)) {
		return "past max entry time"
	}
	if now.After(cl.Add(-e.cfg.CloseBuffer)) {
		return "market close buffer"
	}
	if !e.daily.LastTradeAt.IsZero() && now.Sub(e.daily.LastTradeAt) < e.cfg.Cooldown {
		return "cooldown"
	}
	return ""
}

func (e *Engine) riskBlock(now time.Time, res *Result) error {
	if e.daily.Halted {
		return fmt.Errorf("%w: day halted: %s", ErrRiskLimitExceeded, e.daily.HaltReason)
	}

	var err error
	switch {
	case e.daily.TradeCount >= e.cfg.MaxDailyTrades:
		err = fmt.Errorf("%w: daily trades %d/%d", ErrRiskLimitExceeded, e.daily.TradeCount, e.cfg.MaxDailyTrades)
	case e.daily.RealizedLoss() >= e.cfg.MaxDailyLoss:
		e.daily.Halt("daily loss limit")
		err = fmt.Errorf("%w: daily loss %.2f >= %.2f", ErrRiskLimitExceeded, e.daily.RealizedLoss(), e.cfg.MaxDailyLoss)
	default:
		return nil
	}

	if e.riskNotified != e.daily.DayID {
		e.riskNotified = e.daily.DayID
		res.Events = append(res.Events, e.event(models.EventRiskLimit, now, "⚠️ Лимит дня: %v", err))
	}
	return err
}

func (e *Engine) open(ctx context.Context, sig models.Signal, params models.BreakoutParams, res *Result) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.open")
	defer span.Finish()

	now := sig.DetectedAt
	chain, err := e.chain.FetchChain(ctx, e.cfg.Underlying, now)
	if err != nil {
		e.log.Warn("option chain unavailable, signal discarded", zap.Error(err))
		res.Events = append(res.Events, e.event(models.EventSelectionFailed, now,
			"❗️ Цепочка опционов недоступна, сигнал пропущен: %v", err))
		return
	}

	c, ok := selectOption(chain, selectionRules{
		side:     sig.Direction.OptionSide(),
		askMin:   params.AskMin,
		askMax:   params.AskMax,
		minRatio: e.cfg.MinBidAskRatio,
		asOfDay:  e.cal.DayID(now),
		dayOf:    e.cal.DayID,
	})
	if !ok {
		e.log.Info("no admissible option, signal discarded",
			zap.Int("chain", len(chain)), zap.Float64("ask_min", params.AskMin), zap.Float64("ask_max", params.AskMax))
		res.Events = append(res.Events, e.event(models.EventSelectionFailed, now,
			"⚠️ Нет подходящего опциона (ask %.2f-%.2f), сигнал пропущен", params.AskMin, params.AskMax))
		return
	}

	qty := contractsForRisk(e.cfg.RiskPerSide, c.Ask)
	fill, err := e.exec.Open(ctx, c.Symbol, c.Type, qty)
	if err != nil {
		e.log.Warn("open order failed", zap.String("symbol", c.Symbol), zap.Error(err))
		res.Events = append(res.Events, e.event(models.EventOrderFailed, now,
			"❗️ [%s] Ошибка открытия ордера: %v", c.Symbol, err))
		return
	}

	price := c.Ask
	if fill.Price > 0 {
		price = fill.Price
	}
	if fill.Quantity > 0 {
		qty = fill.Quantity
	}
	fee := e.cfg.FeePerContract()
	entryCost := price*models.ContractMultiplier*float64(qty) + fee*float64(qty)

	e.nextTradeID++
	pos := &models.Position{
		TradeID:       e.nextTradeID,
		Symbol:        c.Symbol,
		Underlying:    e.cfg.Underlying,
		Side:          c.Type,
		Strike:        c.Strike,
		Expiration:    c.Expiration,
		EntryPrice:    price,
		Quantity:      qty,
		OpenedAt:      now,
		EntryCost:     entryCost,
		StopLossPrice: stopLossPrice(entryCost, qty, e.cfg.StopLossPct),
		TargetPrice:   price * params.TargetMultiplier,
		Regime:        sig.Regime,
		Direction:     sig.Direction,
		LastMark:      c.Bid,
		LastMarkAt:    now,
	}

	e.pos = pos
	e.state = StatePositionOpen
	e.daily.TradeCount++
	e.daily.LastTradeAt = now
	e.totals.Trades++
	e.metrics.PositionOpened(e.accountID)

	opened := *pos
	res.Action = ActionOpen
	res.Opened = &opened
	res.Events = append(res.Events, models.Event{
		Kind:      models.EventEntry,
		AccountID: e.accountID,
		At:        now,
		Message: fmt.Sprintf("✅ [%s] OPEN %s x%d @ %.2f | стоимость %.2f | SL=%.2f TP=%.2f | сделок сегодня %d/%d",
			pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.EntryCost,
			pos.StopLossPrice, pos.TargetPrice, e.daily.TradeCount, e.cfg.MaxDailyTrades),
		Entry: &opened,
	})
	e.log.Info("position opened",
		zap.Int64("trade_id", pos.TradeID),
		zap.String("symbol", pos.Symbol),
		zap.Int64("qty", pos.Quantity),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("stop", pos.StopLossPrice),
		zap.Float64("target", pos.TargetPrice),
	)
}

func (e *Engine) manageOpen(ctx context.Context, snap models.MarketSnapshot, res *Result) {
	now := snap.Timestamp
	mark, known := e.markPrice(ctx, now)
	_, cl := e.cal.Session(now)

	reason, hit := evaluateExit(exitInput{
		pos:        e.pos,
		daily:      e.daily,
		mark:       mark,
		markKnown:  known,
		now:        now,
		closeAt:    cl.Add(-e.cfg.CloseBuffer),
		cfg:        e.cfg,
		feePerSide: e.cfg.FeePerContract(),
	})
	if !hit {
		return
	}
	e.closePosition(ctx, now, reason, mark, known, res)
}

// markPrice bid удерживаемого контракта из цепочки.
func (e *Engine) markPrice(ctx context.Context, now time.Time) (float64, bool) {
	chain, err := e.chain.FetchChain(ctx, e.pos.Underlying, now)
	if err != nil {
		e.log.Warn("mark unavailable", zap.String("symbol", e.pos.Symbol), zap.Error(err))
		return 0, false
	}
	c, ok := findContract(chain, e.pos.Symbol)
	if !ok || c.Bid < 0 {
		e.log.Warn("held contract missing from chain", zap.String("symbol", e.pos.Symbol))
		return 0, false
	}
	e.pos.LastMark = c.Bid
	e.pos.LastMarkAt = now
	return c.Bid, true
}

// closePosition false если брокер не закрыл: позиция остаётся, попробуем на следующем шаге.
func (e *Engine) closePosition(ctx context.Context, now time.Time, reason models.ExitReason, mark float64, known bool, res *Result) bool {
	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.close")
	span.SetTag("reason", string(reason))
	defer span.Finish()

	pos := e.pos
	if reason == models.ExitEmergencyStop && !e.daily.Halted {
		e.daily.Halt("emergency stop")
		res.Events = append(res.Events, e.event(models.EventEmergencyStop, now,
			"🚨 Аварийный стоп: убыток дня >= %.2f, торговля остановлена до конца дня", e.cfg.EmergencyStop))
	}

	fill, err := e.exec.Close(ctx, pos.Symbol, pos.Quantity)
	if err != nil {
		e.log.Warn("close order failed", zap.String("symbol", pos.Symbol), zap.String("reason", string(reason)), zap.Error(err))
		res.Events = append(res.Events, e.event(models.EventOrderFailed, now,
			"❗️ [%s] Ошибка закрытия (%s): %v", pos.Symbol, reason, err))
		return false
	}

	exitPrice := fill.Price
	if exitPrice <= 0 {
		exitPrice = pos.LastMark
		if known {
			exitPrice = mark
		}
	}
	fees := e.cfg.FeePerContract() * float64(pos.Quantity)
	exitValue := pos.MarketValue(exitPrice)
	pnl := exitValue - pos.EntryCost - fees

	trade := models.ClosedTrade{
		Position:  *pos,
		ExitPrice: exitPrice,
		ExitValue: exitValue,
		ExitFees:  fees,
		PnL:       pnl,
		Reason:    reason,
		ClosedAt:  now,
	}

	e.daily.Record(pnl)
	e.totals.Record(pnl)
	e.pos = nil
	e.state = StateIdle
	e.metrics.PositionClosed(e.accountID, reason, pnl)

	res.Action = ActionClose
	res.Closed = &trade
	res.Events = append(res.Events, models.Event{
		Kind:      models.EventExit,
		AccountID: e.accountID,
		At:        now,
		Message: fmt.Sprintf("🏁 [%s] CLOSE %s @ %.2f | P&L %.2f | за день %.2f | держали %s",
			pos.Symbol, reason, exitPrice, pnl, e.daily.RealizedPnL, now.Sub(pos.OpenedAt).Round(time.Second)),
		Trade: &trade,
	})
	e.log.Info("position closed",
		zap.Int64("trade_id", pos.TradeID),
		zap.String("reason", string(reason)),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", pnl),
		zap.Float64("daily_pnl", e.daily.RealizedPnL),
	)

	if !e.daily.Halted && e.daily.RealizedLoss() >= e.cfg.MaxDailyLoss {
		e.daily.Halt("daily loss limit")
		e.riskNotified = e.daily.DayID
		res.Events = append(res.Events, e.event(models.EventRiskLimit, now,
			"⛔️ Дневной убыток %.2f >= %.2f, новые входы остановлены", e.daily.RealizedLoss(), e.cfg.MaxDailyLoss))
	}
	return true
}

// ForceClose закрывает открытую позицию и останавливает торговлю до конца дня.
func (e *Engine) ForceClose(ctx context.Context, now time.Time, reason string) (Result, error) {
	var res Result
	if !e.daily.Halted {
		e.daily.Halt(reason)
		res.Events = append(res.Events, e.event(models.EventEmergencyStop, now, "🚨 Торговля остановлена: %s", reason))
	}
	if e.pos == nil {
		return res, nil
	}

	mark, known := e.markPrice(ctx, now)
	if !e.closePosition(ctx, now, models.ExitForced, mark, known, &res) {
		return res, fmt.Errorf("%w: force close %s", ErrTransientCollaborator, e.pos.Symbol)
	}
	return res, nil
}

func (e *Engine) event(kind models.EventKind, at time.Time, format string, args ...any) models.Event {
	return models.Event{
		Kind:      kind,
		AccountID: e.accountID,
		At:        at,
		Message:   fmt.Sprintf(format, args...),
	}
}
