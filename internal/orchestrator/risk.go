package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"breakout_bot/internal/models"
)

// checkGlobalRisk true если сработал глобальный стоп.
func (o *Orchestrator) checkGlobalRisk(ctx context.Context, now time.Time) bool {
	var (
		loss float64
		open int
	)
	for _, st := range o.table.All() {
		loss += st.CurrentLoss()
		open += st.Exposure.OpenPositions
	}
	o.metrics.GlobalExposure(loss, open)

	g := o.cfg.Global
	var reason string
	switch {
	case g.MaxTotalLoss > 0 && loss > g.MaxTotalLoss:
		reason = fmt.Sprintf("global loss %.2f exceeds %.2f", loss, g.MaxTotalLoss)
	case g.MaxOpenPositions > 0 && open > g.MaxOpenPositions:
		reason = fmt.Sprintf("open positions %d exceed %d", open, g.MaxOpenPositions)
	default:
		return false
	}

	o.triggerEmergency(ctx, now, reason)
	return true
}

// triggerEmergency закрывает позиции всех аккаунтов и запускает остановку.
func (o *Orchestrator) triggerEmergency(ctx context.Context, now time.Time, reason string) {
	o.emergencyOnce.Do(func() {
		o.stopping.Store(true)
		o.log.Error("global emergency stop", zap.String("reason", reason))

		procs := o.processors()
		for _, p := range procs {
			p.Halt(reason)
		}
		o.notify(models.Event{
			Kind:    models.EventGlobalEmergency,
			At:      now,
			Message: fmt.Sprintf("🚨 ГЛОБАЛЬНЫЙ АВАРИЙНЫЙ СТОП: %s. Закрываем позиции и останавливаем все аккаунты", reason),
		})
		close(o.emergency)

		go func() {
			o.awaitHalted(ctx, procs, o.cfg.ShutdownGrace)
			if err := o.Shutdown(context.WithoutCancel(ctx), "global emergency: "+reason); err != nil {
				o.log.Warn("emergency shutdown finished with errors", zap.Error(err))
			}
		}()
	})
}

// awaitHalted ждёт, пока все процессоры закроют позиции, но не дольше limit.
func (o *Orchestrator) awaitHalted(ctx context.Context, procs []Processor, limit time.Duration) {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()

	for {
		if allHalted(procs) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			o.log.Warn("not every account confirmed halt before shutdown")
			return
		case <-poll.C:
		}
	}
}

func allHalted(procs []Processor) bool {
	for _, p := range procs {
		select {
		case <-p.Done():
			continue
		default:
		}
		st := p.Status()
		if !st.Daily.Halted || st.Exposure.OpenPositions > 0 {
			return false
		}
	}
	return true
}
