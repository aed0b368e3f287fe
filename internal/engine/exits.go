package engine

import (
	"time"

	"breakout_bot/internal/models"
)

const priceEpsilon = 1e-9

type exitInput struct {
	pos        *models.Position
	daily      models.DailyState
	mark       float64
	markKnown  bool
	now        time.Time
	closeAt    time.Time // закрытие рынка минус буфер
	cfg        models.StrategyConfig
	feePerSide float64
}

// unrealized P&L позиции если закрыть по mark.
func unrealized(pos *models.Position, mark, feePerContract float64) float64 {
	return pos.MarketValue(mark) - pos.EntryCost - feePerContract*float64(pos.Quantity)
}

// evaluateExit первое сработавшее условие по фиксированному приоритету.
func evaluateExit(in exitInput) (models.ExitReason, bool) {
	pos := in.pos

	// 1. аварийный стоп по реализованному + нереализованному
	total := in.daily.RealizedPnL
	if in.markKnown {
		total += unrealized(pos, in.mark, in.feePerSide)
	}
	if -total >= in.cfg.EmergencyStop {
		return models.ExitEmergencyStop, true
	}

	// 2. процентный стоп
	if in.markKnown && in.mark <= pos.StopLossPrice+priceEpsilon {
		return models.ExitStopLoss, true
	}

	// 3. максимальное удержание
	if in.now.Sub(pos.OpenedAt) >= in.cfg.MaxHold {
		return models.ExitMaxHold, true
	}

	// 4. буфер перед закрытием рынка
	if !in.now.Before(in.closeAt) {
		return models.ExitCloseBuffer, true
	}

	// 5. тейк
	if in.markKnown && in.mark >= pos.TargetPrice-priceEpsilon {
		return models.ExitProfitTarget, true
	}
	return "", false
}

// stopLossPrice цена опциона, при которой убыток = stopPct% от стоимости входа.
func stopLossPrice(entryCost float64, qty int64, stopPct float64) float64 {
	if qty <= 0 {
		return 0
	}
	return entryCost * (1 - stopPct/100) / (models.ContractMultiplier * float64(qty))
}
