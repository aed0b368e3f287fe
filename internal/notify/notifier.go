package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"breakout_bot/internal/models"
)

// Sink конечная доставка события: телеграм, лог.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev models.Event) error
}

// Log пишет события в zap. Всегда доступен, даже без телеграма.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log.Named("events")}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, ev models.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.Time("at", ev.At),
	}
	if ev.AccountID != "" {
		fields = append(fields, zap.String("account", ev.AccountID))
	}
	if ev.Trade != nil {
		fields = append(fields,
			zap.String("symbol", ev.Trade.Position.Symbol),
			zap.String("reason", string(ev.Trade.Reason)),
			zap.Float64("pnl", ev.Trade.PnL))
	}

	switch ev.Kind {
	case models.EventFailed, models.EventGlobalEmergency, models.EventEmergencyStop, models.EventOrderFailed:
		l.log.Error(ev.Message, fields...)
	case models.EventDegraded, models.EventFeedDegraded, models.EventRiskLimit, models.EventSelectionFailed:
		l.log.Warn(ev.Message, fields...)
	default:
		l.log.Info(ev.Message, fields...)
	}
	return nil
}

// Multi отправляет во все синки, ошибки собираются вместе.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Send(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Router выбирает синк по аккаунту. События без аккаунта уходят во все маршруты и fallback.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Sink
	fallback Sink
}

func NewRouter(fallback Sink) *Router {
	return &Router{routes: make(map[string]Sink), fallback: fallback}
}

func (r *Router) Route(accountID string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[accountID] = s
}

func (r *Router) Name() string { return "router" }

func (r *Router) Send(ctx context.Context, ev models.Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ev.AccountID != "" {
		if s, ok := r.routes[ev.AccountID]; ok {
			return s.Send(ctx, ev)
		}
		if r.fallback != nil {
			return r.fallback.Send(ctx, ev)
		}
		return nil
	}

	var errs []error
	for _, s := range r.routes {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if r.fallback != nil {
		if err := r.fallback.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
