package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"breakout_bot/internal/models"
	"breakout_bot/internal/runner"
)

func (o *Orchestrator) healthLoop(ctx context.Context) {
	defer close(o.healthDone)

	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx, o.now())
		}
	}
}

// tick одна проверка: сначала глобальный риск, потом зависшие аккаунты.
func (o *Orchestrator) tick(ctx context.Context, now time.Time) {
	if o.stopping.Load() {
		return
	}
	if o.checkGlobalRisk(ctx, now) {
		return
	}

	trading := o.cal.IsTradingTime(now)
	for _, p := range o.processors() {
		id := p.ID()
		if o.isFailed(id) {
			continue
		}
		st := p.Status()
		if st.Health.Status == models.StatusStopped {
			continue
		}

		age := now.Sub(st.Health.LastHeartbeat)
		if age <= o.cfg.HeartbeatThreshold {
			continue
		}
		// ночью и в выходные фид молчит, это не зависание
		if !trading {
			continue
		}

		o.log.Warn("stale heartbeat", zap.String("account", id), zap.Duration("age", age),
			zap.String("status", string(st.Health.Status)))
		o.restart(p, now, fmt.Sprintf("heartbeat age %s", age.Round(time.Second)))
	}
}

func (o *Orchestrator) restart(p Processor, now time.Time, why string) {
	if o.stopping.Load() {
		return
	}
	id := p.ID()
	day := o.cal.DayID(now)

	if o.table.RestartsToday(id, day) >= o.cfg.MaxRestartsPerDay {
		o.fail(p, fmt.Sprintf("restart limit %d reached (%s)", o.cfg.MaxRestartsPerDay, why))
		return
	}

	n := o.table.NoteRestart(id, day)
	if err := p.Restart(); err != nil {
		o.log.Error("restart failed", zap.String("account", id), zap.Error(err))
		if errors.Is(err, runner.ErrWorkerStuck) {
			o.fail(p, err.Error())
		}
		return
	}
	o.log.Info("account restarted", zap.String("account", id), zap.Int("today", n), zap.String("why", why))
}

// fail отключает аккаунт до ручного вмешательства (перезапуска процесса).
func (o *Orchestrator) fail(p Processor, reason string) {
	id := p.ID()
	o.mu.Lock()
	o.failed[id] = true
	o.mu.Unlock()

	o.feed.Unsubscribe(id)
	p.Stop()
	p.MarkFailed(reason)

	o.log.Error("account failed", zap.String("account", id), zap.String("reason", reason))
	o.notify(models.Event{
		Kind:      models.EventFailed,
		AccountID: id,
		At:        o.now(),
		Message:   fmt.Sprintf("🛑 Аккаунт %s отключён: %s. Нужен ручной перезапуск", id, reason),
	})
}

func (o *Orchestrator) isFailed(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed[id]
}
